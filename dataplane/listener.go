package dataplane

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apifyhost/apify/authchain"
	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/schemagen"
	"github.com/apifyhost/apify/validator"
)

// maxRequestBody bounds how much of a request body the listener will
// buffer before handing it to the pipeline.
const maxRequestBody = 8 << 20

// Listener owns one *http.Server for one catalog Listener record:
// one server per catalog-declared listener instead of one fixed server
// per process.
type Listener struct {
	rec      catalog.ListenerRecord
	reconcile *Reconciler
	registry pipeline.Registry
	logger   *logging.Logger
	server   *http.Server
}

func newListener(rec catalog.ListenerRecord, reconciler *Reconciler, registry pipeline.Registry, logger *logging.Logger) *Listener {
	l := &Listener{rec: rec, reconcile: reconciler, registry: registry, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", l.handleHealthz)
	mux.HandleFunc("/", l.handleRequest)

	l.server = &http.Server{
		Addr:    net.JoinHostPort(rec.IP, strconv.Itoa(rec.Port)),
		Handler: mux,
	}
	return l
}

// Start binds the listener's socket and serves in the background. A
// bind failure (port already taken outside this process) is returned
// synchronously; later failures are logged from the Serve goroutine.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Error(context.Background(), "listener serve failed", err, map[string]interface{}{"listener": l.rec.Name})
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the socket.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

// handleHealthz always answers 200, bypassing the pipeline entirely.
func (l *Listener) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleRequest matches the request against the live routing generation
// and drives it through the pipeline. The snapshot is loaded
// once at the top so the whole request runs against one consistent
// generation even if a reconcile swaps in a new one mid-flight.
func (l *Listener) handleRequest(w http.ResponseWriter, r *http.Request) {
	snap := l.reconcile.Snapshot()
	result := snap.table.Match(l.rec.ID, r.Method, r.URL.Path)

	if result.Binding == nil {
		if result.PathExists {
			w.Header().Set("Allow", strings.Join(result.AllowedMethods, ", "))
			writeError(w, apierrors.MethodNotAllowed(r.Method, result.AllowedMethods))
			return
		}
		writeError(w, apierrors.NotFound("route", r.URL.Path))
		return
	}

	req, err := buildRequest(r, result.PathParams)
	if err != nil {
		writeError(w, err)
		return
	}

	state := pipeline.NewContext()
	state.Binding = result.Binding
	state.Set("requestStart", time.Now())
	if engine, ok := snap.engines[result.APIID]; ok {
		state.Set("engine", engine)
	}

	binding := *result.Binding
	state.Set("validate", func(req *pipeline.Request) error {
		se := validator.Validate(binding, validator.Request{
			Headers:    http.Header(req.Headers),
			Query:      url.Values(req.Query),
			PathParams: req.PathParams,
			Body:       req.Body,
		})
		if se == nil {
			return nil
		}
		return se
	})

	chain := resolveChain(binding, snap.authChains)
	state.Set("resolveIdentity", func(ctx context.Context, h http.Header, q url.Values) (any, error) {
		identity, err := chain.Resolve(ctx, authchain.AuthRequest{Headers: h, Query: q})
		if err != nil {
			return nil, err
		}
		return identity, nil
	})

	resp, err := pipeline.Run(r.Context(), l.registry, result.Modules, req, state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, resp)
}

// resolveChain merges every named authenticator an operation's security
// requirements reference into one chain, tried in declaration order
//. An operation with no security requirement resolves to an
// empty chain, which Chain.Resolve treats as an automatic pass.
func resolveChain(binding schemagen.OperationBinding, chains map[string]authchain.Chain) authchain.Chain {
	if len(binding.SecurityRequirements) == 0 {
		return authchain.Chain{}
	}
	var merged authchain.Chain
	seen := make(map[string]bool)
	for _, req := range binding.SecurityRequirements {
		for name := range req {
			if seen[name] {
				continue
			}
			seen[name] = true
			if chain, ok := chains[name]; ok {
				merged.Authenticators = append(merged.Authenticators, chain.Authenticators...)
			}
		}
	}
	return merged
}

// buildRequest adapts a stdlib *http.Request into the pipeline's wire
// Request, decoding a JSON body when present.
func buildRequest(r *http.Request, pathParams map[string]string) (*pipeline.Request, error) {
	req := &pipeline.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		PathParams: pathParams,
		Query:      map[string][]string(r.URL.Query()),
		Headers:    map[string][]string(r.Header),
		ListenerID: r.Host,
	}

	if r.ContentLength == 0 || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch) {
		return req, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil, apierrors.UnsupportedMediaType(ct)
	}

	limited := io.LimitReader(r.Body, maxRequestBody+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierrors.BadRequest("read request body: " + err.Error())
	}
	if len(raw) > maxRequestBody {
		return nil, apierrors.PayloadTooLarge(maxRequestBody)
	}
	if len(raw) == 0 {
		return req, nil
	}

	req.RawBody = raw
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apierrors.BadRequest("invalid JSON body: " + err.Error())
	}
	req.Body = body
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.GetHTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if se := apierrors.GetServiceError(err); se != nil {
		_ = json.NewEncoder(w).Encode(se)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
}

func writeResponse(w http.ResponseWriter, resp *pipeline.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}
