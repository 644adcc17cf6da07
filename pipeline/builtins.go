package pipeline

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	apierrors "github.com/apifyhost/apify/infrastructure/errors"
	"github.com/apifyhost/apify/infrastructure/logging"
)

// BuiltinRegistry returns a Registry carrying the gateway's built-in
// modules: request_validator at BodyParse, key_auth/oauth and
// rate_limit at Access, response_headers at Response, request_logger at
// Log. The crud_data built-in (Data) is registered by the dataplane
// package on top of this set, since pipeline must not import crud.
func BuiltinRegistry(logger *logging.Logger) Registry {
	r := NewRegistry()
	limiters := newRateLimiterStore()

	r.Register("request_validator", func(cfg ModuleConfig) (Executor, error) {
		settings, _ := cfg.Raw.(RequestValidatorConfig)
		return &requestValidatorModule{cfg: settings}, nil
	})

	r.Register("key_auth", func(cfg ModuleConfig) (Executor, error) {
		settings, _ := cfg.Raw.(KeyAuthConfig)
		return &keyAuthModule{cfg: settings}, nil
	})

	// oauth shares key_auth's executor: both resolve the operation's
	// authenticator chain, which may mix api-key and oidc entries (the
	// chain, not the module name, decides which credential types apply).
	r.Register("oauth", func(cfg ModuleConfig) (Executor, error) {
		settings, _ := cfg.Raw.(KeyAuthConfig)
		return &keyAuthModule{cfg: settings}, nil
	})

	r.Register("rate_limit", func(cfg ModuleConfig) (Executor, error) {
		settings, _ := cfg.Raw.(RateLimitConfig)
		return &rateLimitModule{cfg: settings, store: limiters}, nil
	})

	r.Register("response_headers", func(cfg ModuleConfig) (Executor, error) {
		settings, _ := cfg.Raw.(ResponseHeadersConfig)
		return &responseHeadersModule{cfg: settings}, nil
	})

	r.Register("request_logger", func(cfg ModuleConfig) (Executor, error) {
		return &requestLoggerModule{logger: logger}, nil
	})

	return r
}

// requestsTotal and requestDuration are registered once at package init
// (not per BuiltinRegistry call, which would attempt to re-register the
// same metric name every time a new registry is built, e.g. in tests).
var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apify_gateway_requests_total",
		Help: "Total requests handled by the gateway, labeled by method and status code.",
	}, []string{"method", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apify_gateway_request_duration_seconds",
		Help:    "Request duration in seconds, labeled by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// RequestValidatorConfig configures the request_validator module; the
// actual per-field checking is delegated to the validator package,
// invoked through the "validate" function the data-plane listener
// places in state before Run.
type RequestValidatorConfig struct {
	Enabled bool
}

type requestValidatorModule struct{ cfg RequestValidatorConfig }

func (m *requestValidatorModule) Name() string { return "request_validator" }

func (m *requestValidatorModule) Execute(_ context.Context, req *Request, state *Context) Decision {
	if !m.cfg.Enabled {
		return ContinueDecision()
	}
	validate, ok := state.Get("validate")
	if !ok {
		return ContinueDecision()
	}
	fn, ok := validate.(func(*Request) error)
	if !ok {
		return ContinueDecision()
	}
	if err := fn(req); err != nil {
		return ErrorDecision(err)
	}
	return ContinueDecision()
}

// KeyAuthConfig says whether this operation requires an identity when
// state carries no "resolveIdentity" function (then the module answers
// 401). Resolution itself is authchain.Chain, wrapped in that function
// by the listener so this module stays free of an authchain import.
type KeyAuthConfig struct {
	Required bool
}

type keyAuthModule struct{ cfg KeyAuthConfig }

func (m *keyAuthModule) Name() string { return "key_auth" }

func (m *keyAuthModule) Execute(ctx context.Context, req *Request, state *Context) Decision {
	resolve, ok := state.Get("resolveIdentity")
	if !ok {
		if m.cfg.Required {
			return ErrorDecision(apierrors.Unauthorized("no authenticator configured"))
		}
		return ContinueDecision()
	}
	fn, ok := resolve.(func(context.Context, http.Header, url.Values) (any, error))
	if !ok {
		return ContinueDecision()
	}
	identity, err := fn(ctx, toHeader(req.Headers), toValues(req.Query))
	if err != nil {
		return ErrorDecision(err)
	}
	state.Identity = identity
	return ContinueDecision()
}

// ResponseHeadersConfig lists static headers the Response phase adds
// to every successful response for this operation (e.g. cache-control).
type ResponseHeadersConfig struct {
	Headers map[string]string
}

type responseHeadersModule struct{ cfg ResponseHeadersConfig }

func (m *responseHeadersModule) Name() string { return "response_headers" }

func (m *responseHeadersModule) Execute(_ context.Context, _ *Request, state *Context) Decision {
	resp, _ := state.Get("response")
	r, ok := resp.(*Response)
	if !ok {
		r = &Response{Status: 200}
	}
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	for k, v := range m.cfg.Headers {
		r.Headers[k] = v
	}
	state.Set("response", r)
	return ContinueDecision()
}

// requestLoggerModule records the completed request through the
// gateway's structured logger, consuming whatever verdict Run stashed
// under "pipelineVerdict" if the request short-circuited or errored.
type requestLoggerModule struct{ logger *logging.Logger }

func (m *requestLoggerModule) Name() string { return "request_logger" }

func (m *requestLoggerModule) Execute(ctx context.Context, req *Request, state *Context) Decision {
	if m.logger == nil {
		return ContinueDecision()
	}

	status := 200
	var logErr error
	if v, ok := state.Get("pipelineVerdict"); ok {
		if decision, ok := v.(Decision); ok {
			if decision.Response != nil {
				status = decision.Response.Status
			}
			if decision.Err != nil {
				logErr = decision.Err
				status = apierrors.GetHTTPStatus(decision.Err)
			}
		}
	} else if resp, ok := state.Get("response"); ok {
		if r, ok := resp.(*Response); ok {
			status = r.Status
		}
	}

	duration := time.Duration(0)
	if started, ok := state.Get("requestStart"); ok {
		if t, ok := started.(time.Time); ok {
			duration = time.Since(t)
		}
	}

	m.logger.LogRequest(ctx, req.Method, req.Path, status, duration)
	if logErr != nil {
		m.logger.LogErrorWithStack(ctx, logErr, "request failed", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		})
	}

	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(req.Method).Observe(duration.Seconds())

	return ContinueDecision()
}

// RateLimitConfig configures the optional rate_limit module: a token
// bucket of Burst capacity refilling at RequestsPerSecond, shared across
// every request matching the same operation binding.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// rateLimiterStore holds one *rate.Limiter per operation binding,
// surviving across the per-request Executor instances the Registry
// builds.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[any]*rate.Limiter
}

func newRateLimiterStore() *rateLimiterStore {
	return &rateLimiterStore{limiters: make(map[any]*rate.Limiter)}
}

func (s *rateLimiterStore) get(key any, rps float64, burst int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	s.limiters[key] = l
	return l
}

type rateLimitModule struct {
	cfg   RateLimitConfig
	store *rateLimiterStore
}

func (m *rateLimitModule) Name() string { return "rate_limit" }

func (m *rateLimitModule) Execute(_ context.Context, _ *Request, state *Context) Decision {
	if m.cfg.RequestsPerSecond <= 0 {
		return ContinueDecision()
	}
	// state.Binding is the *schemagen.OperationBinding the routing table
	// matched; it is the same pointer for every request against this
	// operation within one routing generation, so keying the limiter on it scopes the bucket per
	// operation without this module needing to know schemagen's type.
	limiter := m.store.get(state.Binding, m.cfg.RequestsPerSecond, m.cfg.Burst)
	if !limiter.Allow() {
		return ErrorDecision(apierrors.RateLimitExceeded(int(m.cfg.RequestsPerSecond), "1s"))
	}
	return ContinueDecision()
}

func toHeader(h map[string][]string) http.Header {
	if h == nil {
		return http.Header{}
	}
	return http.Header(h)
}

func toValues(q map[string][]string) url.Values {
	if q == nil {
		return url.Values{}
	}
	return url.Values(q)
}
