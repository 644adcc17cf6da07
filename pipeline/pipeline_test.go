package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	name     string
	decision Decision
	calls    *int
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Execute(_ context.Context, _ *Request, _ *Context) Decision {
	if f.calls != nil {
		*f.calls++
	}
	return f.decision
}

func TestMerge_OverlayByNameReplaceSemantics(t *testing.T) {
	listener := ConfigSet{{Name: "request_logger", Phase: PhaseLog}}
	route := ConfigSet{{Name: "key_auth", Phase: PhaseAccess, Raw: KeyAuthConfig{Required: true}}}
	operation := ConfigSet{{Name: "key_auth", Phase: PhaseAccess, Raw: KeyAuthConfig{Required: false}}}

	merged := Merge(listener, route, operation)

	require.Len(t, merged, 2)
	var keyAuth ModuleConfig
	for _, cfg := range merged {
		if cfg.Name == "key_auth" {
			keyAuth = cfg
		}
	}
	settings := keyAuth.Raw.(KeyAuthConfig)
	assert.False(t, settings.Required)
}

func TestMerge_DisabledClearsLowerLevelEntry(t *testing.T) {
	listener := ConfigSet{{Name: "response_headers", Phase: PhaseResponse}}
	operation := ConfigSet{{Name: "response_headers", Phase: PhaseResponse, Disabled: true}}

	merged := Merge(listener, nil, operation)
	assert.Len(t, merged, 0)
}

func TestRun_ShortCircuitSkipsToResponseAndLog(t *testing.T) {
	accessCalls := 0
	dataCalls := 0
	responseCalls := 0
	logCalls := 0

	registry := NewRegistry()
	registry.Register("deny", func(cfg ModuleConfig) (Executor, error) {
		return &fakeModule{name: "deny", decision: ShortCircuitWith(&Response{Status: 401}), calls: &accessCalls}, nil
	})
	registry.Register("data", func(cfg ModuleConfig) (Executor, error) {
		return &fakeModule{name: "data", decision: ContinueDecision(), calls: &dataCalls}, nil
	})
	registry.Register("resp", func(cfg ModuleConfig) (Executor, error) {
		return &fakeModule{name: "resp", decision: ContinueDecision(), calls: &responseCalls}, nil
	})
	registry.Register("log", func(cfg ModuleConfig) (Executor, error) {
		return &fakeModule{name: "log", decision: ContinueDecision(), calls: &logCalls}, nil
	})

	merged := ConfigSet{
		{Name: "deny", Phase: PhaseAccess},
		{Name: "data", Phase: PhaseData},
		{Name: "resp", Phase: PhaseResponse},
		{Name: "log", Phase: PhaseLog},
	}

	resp, err := Run(context.Background(), registry, merged, &Request{}, NewContext())
	require.NoError(t, err)
	assert.Equal(t, 401, resp.Status)
	assert.Equal(t, 1, accessCalls)
	assert.Equal(t, 0, dataCalls)
	assert.Equal(t, 1, responseCalls)
	assert.Equal(t, 1, logCalls)
}

func TestRun_UnknownModuleErrors(t *testing.T) {
	registry := NewRegistry()
	merged := ConfigSet{{Name: "nonexistent", Phase: PhaseAccess}}

	_, err := Run(context.Background(), registry, merged, &Request{}, NewContext())
	require.Error(t, err)
	assert.IsType(t, &UnknownModuleError{}, err)
}
