package authchain

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_EmptyShortCircuitsToSuccess(t *testing.T) {
	identity, err := Chain{}.Resolve(context.Background(), AuthRequest{})
	require.NoError(t, err)
	assert.Equal(t, Identity{}, identity)
}

func TestApiKeyAuthenticator_MatchAndMismatch(t *testing.T) {
	auth := &ApiKeyAuthenticator{Consumers: map[string]string{"dev-key-123": "dev-consumer"}}
	chain := Chain{Authenticators: []Authenticator{auth}}

	headers := http.Header{}
	headers.Set("X-Api-Key", "dev-key-123")
	identity, err := chain.Resolve(context.Background(), AuthRequest{Headers: headers, Query: url.Values{}})
	require.NoError(t, err)
	assert.Equal(t, "dev-consumer", identity.Subject)

	headers.Set("X-Api-Key", "wrong")
	_, err = chain.Resolve(context.Background(), AuthRequest{Headers: headers, Query: url.Values{}})
	assert.Error(t, err)
}

func TestApiKeyAuthenticator_QueryFallback(t *testing.T) {
	auth := &ApiKeyAuthenticator{QueryName: "api_key", Consumers: map[string]string{"k": "consumer"}}
	chain := Chain{Authenticators: []Authenticator{auth}}

	identity, err := chain.Resolve(context.Background(), AuthRequest{
		Headers: http.Header{},
		Query:   url.Values{"api_key": {"k"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "consumer", identity.Subject)
}

func TestChain_NoAuthenticatorAccepts(t *testing.T) {
	auth := &ApiKeyAuthenticator{Consumers: map[string]string{}}
	chain := Chain{Authenticators: []Authenticator{auth}}

	_, err := chain.Resolve(context.Background(), AuthRequest{Headers: http.Header{}, Query: url.Values{}})
	assert.Error(t, err)
}
