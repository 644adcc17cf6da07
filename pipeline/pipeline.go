// Package pipeline implements the fixed phase/module request state
// machine: HeaderParse, BodyParse, Rewrite, Route, Access, Data,
// Response, Log. Unlike a compile-time http.Handler middleware chain,
// the module set here is configuration-driven per
// listener/route/operation, so phases execute named modules resolved
// through a declarative per-name config merge.
package pipeline

import (
	"context"
)

// Phase identifies one of the fixed stages a request traverses in order.
type Phase string

const (
	PhaseHeaderParse Phase = "HeaderParse"
	PhaseBodyParse   Phase = "BodyParse"
	PhaseRewrite     Phase = "Rewrite"
	PhaseRoute       Phase = "Route"
	PhaseAccess      Phase = "Access"
	PhaseData        Phase = "Data"
	PhaseResponse    Phase = "Response"
	PhaseLog         Phase = "Log"
)

// Phases is the declared execution order. Response and Log
// always run, even after an earlier phase short-circuits with an error.
var Phases = []Phase{
	PhaseHeaderParse,
	PhaseBodyParse,
	PhaseRewrite,
	PhaseRoute,
	PhaseAccess,
	PhaseData,
	PhaseResponse,
	PhaseLog,
}

// Outcome is the result of one module's execution at one phase.
type Outcome int

const (
	// Continue lets the phase's remaining modules, then the next phase, run.
	Continue Outcome = iota
	// ShortCircuit stops the pipeline and jumps straight to Response/Log
	// with the Decision's Response populated.
	ShortCircuit
	// Error stops the pipeline and jumps to Response/Log with Decision.Err
	// populated; Run then returns the error, and its caller formats it
	// through the error taxonomy.
	Error
)

// Decision is a module's typed verdict for one phase of one request.
type Decision struct {
	Outcome  Outcome
	Response *Response
	Err      error
}

func ContinueDecision() Decision { return Decision{Outcome: Continue} }

func ShortCircuitWith(resp *Response) Decision {
	return Decision{Outcome: ShortCircuit, Response: resp}
}

func ErrorDecision(err error) Decision {
	return Decision{Outcome: Error, Err: err}
}

// Response is the module-facing, phase-agnostic HTTP response shape;
// the data-plane listener adapts it to the wire.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Module is a named unit of behavior executable at one or more phases,
// configured declaratively. Config is an
// arbitrary value the module type-asserts to its own settings struct;
// the merge step (below) operates on the name only and never inspects
// Config's shape.
type Module interface {
	Name() string
}

// Executor runs a module at a specific phase against the shared
// Request/Context state. Not every Module needs to act at every phase
// it is configured for; a module that has nothing to do at a given
// phase simply is not registered there.
type Executor interface {
	Module
	Execute(ctx context.Context, req *Request, state *Context) Decision
}

// Request is the mutable request state threaded through the pipeline.
// The data-plane listener fills it from the HTTP request before Run;
// Rewrite may mutate it; later
// phases read it.
type Request struct {
	Method      string
	Path        string
	PathParams  map[string]string
	Query       map[string][]string
	Headers     map[string][]string
	Body        map[string]any
	ListenerID  string
	RawBody     []byte
}

// Context carries cross-phase state that is not part of the wire
// request itself: the matched binding, the resolved identity, and
// whatever Data produces for Response to serialize. It is distinct
// from context.Context, which carries deadlines, cancellation, and the
// request trace ID.
type Context struct {
	Binding  any // *schemagen.OperationBinding, kept as `any` so pipeline does not import schemagen
	Identity any // authchain.Identity, kept as `any` so pipeline does not import authchain
	Result   any // CRUD engine output, consumed by the Response phase
	Values   map[string]any
}

func NewContext() *Context {
	return &Context{Values: make(map[string]any)}
}

func (c *Context) Set(key string, value any) {
	c.Values[key] = value
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Values[key]
	return v, ok
}
