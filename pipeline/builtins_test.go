package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/infrastructure/logging"
)

func TestRateLimitModule_AllowsUpToBurstThenRejects(t *testing.T) {
	store := newRateLimiterStore()
	binding := &struct{ name string }{name: "orders.list"}
	m := &rateLimitModule{cfg: RateLimitConfig{RequestsPerSecond: 1, Burst: 2}, store: store}
	state := NewContext()
	state.Binding = binding

	first := m.Execute(context.Background(), &Request{}, state)
	second := m.Execute(context.Background(), &Request{}, state)
	third := m.Execute(context.Background(), &Request{}, state)

	assert.Equal(t, Continue, first.Outcome)
	assert.Equal(t, Continue, second.Outcome)
	assert.Equal(t, Error, third.Outcome, "third request must exhaust the burst of 2")
}

func TestRateLimitModule_SeparateBindingsGetSeparateBuckets(t *testing.T) {
	store := newRateLimiterStore()
	bindingA := &struct{ name string }{name: "a"}
	bindingB := &struct{ name string }{name: "b"}
	m := &rateLimitModule{cfg: RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, store: store}

	stateA := NewContext()
	stateA.Binding = bindingA
	stateB := NewContext()
	stateB.Binding = bindingB

	assert.Equal(t, Continue, m.Execute(context.Background(), &Request{}, stateA).Outcome)
	assert.Equal(t, Continue, m.Execute(context.Background(), &Request{}, stateB).Outcome,
		"a distinct operation binding must not share the exhausted bucket")
}

func TestRateLimitModule_ZeroRateDisablesLimiting(t *testing.T) {
	store := newRateLimiterStore()
	m := &rateLimitModule{cfg: RateLimitConfig{}, store: store}
	state := NewContext()

	for i := 0; i < 5; i++ {
		require.Equal(t, Continue, m.Execute(context.Background(), &Request{}, state).Outcome)
	}
}

func TestRequestLoggerModule_IncrementsPrometheusCounters(t *testing.T) {
	logger := logging.New("test", "error", "json")
	m := &requestLoggerModule{logger: logger}
	state := NewContext()
	state.Set("requestStart", time.Now())
	state.Set("response", &Response{Status: 204})

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("DELETE", "204"))
	m.Execute(context.Background(), &Request{Method: "DELETE", Path: "/widgets/1"}, state)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("DELETE", "204"))

	assert.Equal(t, before+1, after)
}
