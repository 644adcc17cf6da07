package authchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCAuthenticator is the oidc authenticator: extract a bearer
// token, validate via cached JWKS verification, falling back to
// RFC 7662 introspection.
type OIDCAuthenticator struct {
	Issuer           string
	Audience         string
	JWKSURL          string
	JWKSTTL          time.Duration
	IntrospectionURL string
	// JWKSRedisAddr, when set, backs the JWKS cache with a shared Redis
	// instance instead of a purely in-process map, so a fleet of workers
	// shares one JWKS fetch against the IdP.
	JWKSRedisAddr string
	// ClientID/ClientSecret authenticate the introspection call itself,
	// per RFC 7662 §2.1.
	ClientID     string
	ClientSecret string

	cache      *jwksCache
	httpClient *http.Client
}

func (a *OIDCAuthenticator) Name() string { return "oidc" }

func (a *OIDCAuthenticator) ensureCache() *jwksCache {
	if a.cache == nil {
		var redisClient *redis.Client
		if a.JWKSRedisAddr != "" {
			redisClient = redis.NewClient(&redis.Options{Addr: a.JWKSRedisAddr})
		}
		a.cache = newJWKSCache(a.JWKSURL, a.JWKSTTL, redisClient)
	}
	return a.cache
}

func (a *OIDCAuthenticator) ensureHTTPClient() *http.Client {
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return a.httpClient
}

type gatewayClaims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (*Identity, bool, error) {
	header := req.Headers.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, false, nil
	}

	if identity, ok := a.verifyJWKS(ctx, token); ok {
		return identity, true, nil
	}

	if a.IntrospectionURL != "" {
		if identity, ok, err := a.introspect(ctx, token); err != nil {
			return nil, false, err
		} else if ok {
			return identity, true, nil
		}
	}

	return nil, false, nil
}

func (a *OIDCAuthenticator) verifyJWKS(ctx context.Context, tokenStr string) (*Identity, bool) {
	if a.JWKSURL == "" {
		return nil, false
	}

	claims := &gatewayClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.ensureCache().Key(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(a.Issuer), jwt.WithAudience(a.Audience))
	if err != nil {
		return nil, false
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.Username
	}
	return &Identity{Subject: subject, Claims: map[string]any{"iss": claims.Issuer}}, true
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Username string `json:"username"`
}

// introspect calls the RFC 7662 token introspection endpoint as the
// fallback path when JWKS verification does not apply or fails.
func (a *OIDCAuthenticator) introspect(ctx context.Context, token string) (*Identity, bool, error) {
	form := url.Values{"token": {token}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.ClientID != "" {
		httpReq.SetBasicAuth(a.ClientID, a.ClientSecret)
	}

	resp, err := a.ensureHTTPClient().Do(httpReq)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}

	var body introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, err
	}
	if !body.Active {
		return nil, false, nil
	}

	subject := body.Subject
	if subject == "" {
		subject = body.Username
	}
	return &Identity{Subject: subject}, true, nil
}
