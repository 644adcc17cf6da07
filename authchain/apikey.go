package authchain

import "context"

// ApiKeyAuthenticator is the api-key authenticator:
// extract the key from a configured header or query parameter, match
// against the configured consumer set.
type ApiKeyAuthenticator struct {
	// HeaderName is the header to check, default "X-Api-Key".
	HeaderName string
	// QueryName is the query parameter to check when the header is absent.
	QueryName string
	// Consumers maps an API key to the consumer name that becomes
	// identity.subject on match.
	Consumers map[string]string
}

func (a *ApiKeyAuthenticator) Name() string { return "api-key" }

func (a *ApiKeyAuthenticator) headerName() string {
	if a.HeaderName != "" {
		return a.HeaderName
	}
	return "X-Api-Key"
}

func (a *ApiKeyAuthenticator) Authenticate(_ context.Context, req AuthRequest) (*Identity, bool, error) {
	key := req.Headers.Get(a.headerName())
	if key == "" && a.QueryName != "" {
		key = req.Query.Get(a.QueryName)
	}
	if key == "" {
		return nil, false, nil
	}

	consumer, ok := a.Consumers[key]
	if !ok {
		return nil, false, nil
	}
	return &Identity{Subject: consumer}, true, nil
}
