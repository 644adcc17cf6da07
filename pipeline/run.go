package pipeline

import "context"

// Registry constructs an Executor instance from a ModuleConfig's name
// and Raw settings. Built-in modules register themselves here (see
// builtins.go); a name with no registered factory makes Build return
// *UnknownModuleError, which Run reports as the request's error.
type Registry map[string]func(cfg ModuleConfig) (Executor, error)

func NewRegistry() Registry {
	return make(Registry)
}

func (r Registry) Register(name string, factory func(cfg ModuleConfig) (Executor, error)) {
	r[name] = factory
}

func (r Registry) Build(cfg ModuleConfig) (Executor, error) {
	factory, ok := r[cfg.Name]
	if !ok {
		return nil, &UnknownModuleError{Name: cfg.Name}
	}
	return factory(cfg)
}

type UnknownModuleError struct {
	Name string
}

func (e *UnknownModuleError) Error() string {
	return "pipeline: unknown module " + e.Name
}

// Run executes the fixed phase sequence for one request. merged is the
// already-overlaid ConfigSet (see Merge) for the matched operation.
// Response and Log always run: a
// short-circuit or error in any earlier phase skips straight to
// Response then Log, never skipping those last two.
func Run(ctx context.Context, registry Registry, merged ConfigSet, req *Request, state *Context) (*Response, error) {
	var verdict Decision

	for _, phase := range Phases {
		pending := verdict.Outcome != Continue
		if pending && phase != PhaseResponse && phase != PhaseLog {
			continue
		}
		if pending {
			// Response/Log still run, but expose the short-circuiting
			// verdict so their modules can format/record it instead of
			// silently overwriting it with their own Continue.
			state.Set("pipelineVerdict", verdict)
		}

		for _, cfg := range merged.ForPhase(phase) {
			exec, err := registry.Build(cfg)
			if err != nil {
				if !pending {
					verdict = ErrorDecision(err)
					pending = true
					state.Set("pipelineVerdict", verdict)
				}
				break
			}

			decision := exec.Execute(ctx, req, state)
			if decision.Outcome != Continue && !pending {
				verdict = decision
				pending = true
				state.Set("pipelineVerdict", verdict)
			}
		}
	}

	switch verdict.Outcome {
	case Error:
		return nil, verdict.Err
	case ShortCircuit:
		return verdict.Response, nil
	default:
		resp, _ := state.Get("response")
		if r, ok := resp.(*Response); ok {
			return r, nil
		}
		return &Response{Status: 200}, nil
	}
}
