// Package authchain resolves and runs the ordered authenticators
// applicable to an operation. Two built-in authenticator types are
// implemented: api-key and oidc (RS256 JWT validation against a cached
// JWKS document, with RFC 7662 introspection as the fallback).
package authchain

import (
	"context"
	"net/http"
	"net/url"

	"github.com/apifyhost/apify/infrastructure/errors"
)

// Identity is the resolved caller identity: populated by AuthChain, passed
// through the request context by value so downstream phases cannot
// mutate it.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// AuthRequest is the subset of an incoming request an authenticator may
// inspect. Authenticators are pure of database writes; the only state
// they may mutate is their own cache.
type AuthRequest struct {
	Headers http.Header
	Query   url.Values
}

// Authenticator resolves a request to an Identity, or reports that it
// does not apply / the credential is invalid.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, req AuthRequest) (*Identity, bool, error)
}

// Chain is an ordered list of authenticator instances resolved for one
// operation by name lookup in the catalog.
type Chain struct {
	Authenticators []Authenticator
}

// Resolve runs the chain in declared order, succeeding on the first
// authenticator that accepts. An empty chain short-circuits to success
// with an empty identity.
func (c Chain) Resolve(ctx context.Context, req AuthRequest) (Identity, error) {
	if len(c.Authenticators) == 0 {
		return Identity{}, nil
	}

	for _, a := range c.Authenticators {
		identity, ok, err := a.Authenticate(ctx, req)
		if err != nil {
			continue
		}
		if ok {
			return *identity, nil
		}
	}
	return Identity{}, errors.Unauthorized("no authenticator accepted the request")
}
