package authchain

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// jwksCache is the shared, lock-protected JWKS cache: parsed public
// keys by kid, refreshed on expiry, stale-but-usable under transient
// fetch failure, with a configurable TTL.
//
// The in-process map is the default and is all a single-worker deployment
// needs. When redisClient is set, every successful HTTP refresh also
// writes the raw JWKS document through to Redis, and a cache miss checks
// Redis before hitting the IdP, so a fleet of data-plane workers shares
// one JWKS fetch instead of each one polling the IdP independently.
type jwksCache struct {
	url         string
	ttl         time.Duration
	client      *http.Client
	redisClient *redis.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(jwksURL string, ttl time.Duration, redisClient *redis.Client) *jwksCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &jwksCache{
		url:         jwksURL,
		ttl:         ttl,
		client:      &http.Client{Timeout: 10 * time.Second},
		keys:        make(map[string]*rsa.PublicKey),
		redisClient: redisClient,
	}
}

func (c *jwksCache) redisKey() string { return "apify:jwks:" + c.url }

// Key returns the public key for kid, fetching (or refreshing) the JWKS
// document as needed. A stale cache is served if a refresh fails, so a
// transient JWKS-endpoint outage does not immediately break auth.
func (c *jwksCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if ok {
			return key, nil // stale-but-usable
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("authchain: no JWKS key for kid %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *jwksCache) refresh(ctx context.Context) error {
	raw, err := c.fetchDocument(ctx)
	if err != nil {
		return err
	}

	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// fetchDocument returns the raw JWKS document body, preferring the shared
// Redis cache (if configured) over the IdP's JWKS endpoint. A Redis miss
// or error falls through to the HTTP fetch, and a successful HTTP fetch
// writes the document back to Redis for other workers to pick up.
func (c *jwksCache) fetchDocument(ctx context.Context) ([]byte, error) {
	if c.redisClient != nil {
		if cached, err := c.redisClient.Get(ctx, c.redisKey()).Bytes(); err == nil {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authchain: jwks fetch returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if c.redisClient != nil {
		c.redisClient.Set(ctx, c.redisKey(), raw, c.ttl)
	}
	return raw, nil
}

func rsaPublicKeyFromJWK(nEncoded, eEncoded string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nEncoded)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eEncoded)
	if err != nil {
		return nil, err
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
