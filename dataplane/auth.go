package dataplane

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/apifyhost/apify/authchain"
	"github.com/apifyhost/apify/catalog"
)

type apiKeySpec struct {
	HeaderName string            `json:"headerName"`
	QueryName  string            `json:"queryName"`
	Consumers  map[string]string `json:"consumers"`
}

type oidcSpec struct {
	Issuer           string `json:"issuer"`
	Audience         string `json:"audience"`
	JWKSURL          string `json:"jwksUrl"`
	JWKSTTLSeconds   int    `json:"jwksTtlSeconds"`
	JWKSRedisAddr    string `json:"jwksRedisAddr"`
	IntrospectionURL string `json:"introspectionUrl"`
	ClientID         string `json:"clientId"`
	ClientSecret     string `json:"clientSecret"`
}

// buildAuthenticator turns one catalog AuthConfigRecord into a live
// authchain.Authenticator. Disabled entries are skipped by
// the caller before this is reached.
func buildAuthenticator(rec catalog.AuthConfigRecord) (authchain.Authenticator, error) {
	switch rec.Type {
	case "api-key":
		var spec apiKeySpec
		if err := json.Unmarshal([]byte(rec.Config), &spec); err != nil {
			return nil, fmt.Errorf("dataplane: auth config %s: %w", rec.Name, err)
		}
		return &authchain.ApiKeyAuthenticator{
			HeaderName: spec.HeaderName,
			QueryName:  spec.QueryName,
			Consumers:  spec.Consumers,
		}, nil

	case "oidc":
		var spec oidcSpec
		if err := json.Unmarshal([]byte(rec.Config), &spec); err != nil {
			return nil, fmt.Errorf("dataplane: auth config %s: %w", rec.Name, err)
		}
		return &authchain.OIDCAuthenticator{
			Issuer:           spec.Issuer,
			Audience:         spec.Audience,
			JWKSURL:          spec.JWKSURL,
			JWKSTTL:          time.Duration(spec.JWKSTTLSeconds) * time.Second,
			JWKSRedisAddr:    spec.JWKSRedisAddr,
			IntrospectionURL: spec.IntrospectionURL,
			ClientID:         spec.ClientID,
			ClientSecret:     spec.ClientSecret,
		}, nil

	default:
		return nil, fmt.Errorf("dataplane: unknown auth config type %q", rec.Type)
	}
}

// buildAuthChains resolves every enabled AuthConfig in the snapshot into
// a named authchain.Chain of one authenticator, the unit SecurityRequirement
// names reference.
func buildAuthChains(configs []catalog.AuthConfigRecord) map[string]authchain.Chain {
	chains := make(map[string]authchain.Chain, len(configs))
	for _, rec := range configs {
		if !rec.Enabled {
			continue
		}
		a, err := buildAuthenticator(rec)
		if err != nil {
			continue
		}
		chains[rec.Name] = authchain.Chain{Authenticators: []authchain.Authenticator{a}}
	}
	return chains
}
