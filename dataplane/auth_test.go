package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/authchain"
	"github.com/apifyhost/apify/catalog"
)

func TestBuildAuthenticator_ApiKey(t *testing.T) {
	rec := catalog.AuthConfigRecord{
		Name: "key-auth", Type: "api-key", Enabled: true,
		Config: `{"headerName":"X-API-KEY","consumers":{"secret-1":"alice"}}`,
	}
	a, err := buildAuthenticator(rec)
	require.NoError(t, err)
	keyAuth, ok := a.(*authchain.ApiKeyAuthenticator)
	require.True(t, ok)
	assert.Equal(t, "X-API-KEY", keyAuth.HeaderName)
	assert.Equal(t, "alice", keyAuth.Consumers["secret-1"])
}

func TestBuildAuthenticator_OIDC(t *testing.T) {
	rec := catalog.AuthConfigRecord{
		Name: "oidc-auth", Type: "oidc", Enabled: true,
		Config: `{"issuer":"https://issuer.example.com","audience":"api","jwksUrl":"https://issuer.example.com/jwks"}`,
	}
	a, err := buildAuthenticator(rec)
	require.NoError(t, err)
	oidc, ok := a.(*authchain.OIDCAuthenticator)
	require.True(t, ok)
	assert.Equal(t, "https://issuer.example.com", oidc.Issuer)
	assert.Equal(t, "api", oidc.Audience)
}

func TestBuildAuthenticator_UnknownTypeErrors(t *testing.T) {
	_, err := buildAuthenticator(catalog.AuthConfigRecord{Name: "bogus", Type: "saml"})
	require.Error(t, err)
}

func TestBuildAuthChains_SkipsDisabledAndUnknownTypes(t *testing.T) {
	chains := buildAuthChains([]catalog.AuthConfigRecord{
		{Name: "enabled-key", Type: "api-key", Enabled: true, Config: `{"headerName":"X-API-KEY"}`},
		{Name: "disabled-key", Type: "api-key", Enabled: false, Config: `{"headerName":"X-API-KEY"}`},
		{Name: "bogus", Type: "saml", Enabled: true, Config: `{}`},
	})

	_, hasEnabled := chains["enabled-key"]
	assert.True(t, hasEnabled)
	_, hasDisabled := chains["disabled-key"]
	assert.False(t, hasDisabled, "disabled auth configs must not produce a chain")
	_, hasBogus := chains["bogus"]
	assert.False(t, hasBogus, "an auth config with an unresolvable authenticator type must be skipped")
}
