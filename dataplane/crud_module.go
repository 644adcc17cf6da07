package dataplane

import (
	"context"
	"net/http"

	"github.com/apifyhost/apify/authchain"
	"github.com/apifyhost/apify/crud"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/schemagen"
)

// registerCRUDModule installs the "crud_data" built-in at the Data
// phase. It lives here rather than in pipeline.BuiltinRegistry to keep
// pipeline free of a crud import. It reads the *crud.Engine the
// listener stashed in state under "engine" and the matched binding
// under state.Binding, and drives the five CRUD actions.
func registerCRUDModule(r pipeline.Registry) {
	r.Register("crud_data", func(cfg pipeline.ModuleConfig) (pipeline.Executor, error) {
		return &crudDataModule{}, nil
	})
}

type crudDataModule struct{}

func (m *crudDataModule) Name() string { return "crud_data" }

func (m *crudDataModule) Execute(ctx context.Context, req *pipeline.Request, state *pipeline.Context) pipeline.Decision {
	binding, ok := state.Binding.(*schemagen.OperationBinding)
	if !ok || binding == nil {
		return pipeline.ErrorDecision(apierrors.NotFound("route", req.Path))
	}

	engineVal, ok := state.Get("engine")
	if !ok {
		return pipeline.ErrorDecision(apierrors.Internal("crud: no engine bound for this operation", nil))
	}
	engine, ok := engineVal.(*crud.Engine)
	if !ok {
		return pipeline.ErrorDecision(apierrors.Internal("crud: engine of unexpected type", nil))
	}

	subject := ""
	if identity, ok := state.Identity.(authchain.Identity); ok {
		subject = identity.Subject
	}

	table := binding.TargetTable
	pkParam := req.PathParams["id"]

	switch binding.Action {
	case schemagen.ActionList:
		filters := make(map[string]string, len(req.Query))
		limit, offset := 0, 0
		for k, v := range req.Query {
			if len(v) == 0 {
				continue
			}
			switch k {
			case "limit":
				limit = atoiSafe(v[0])
			case "offset":
				offset = atoiSafe(v[0])
			default:
				filters[k] = v[0]
			}
		}
		rows, err := engine.List(ctx, table, filters, limit, offset)
		if err != nil {
			return pipeline.ErrorDecision(err)
		}
		state.Result = rows
		state.Set("response", &pipeline.Response{Status: http.StatusOK, Body: rows})
		return pipeline.ContinueDecision()

	case schemagen.ActionGet:
		row, err := engine.Get(ctx, table, pkParam)
		if err != nil {
			return pipeline.ErrorDecision(err)
		}
		state.Result = row
		state.Set("response", &pipeline.Response{Status: http.StatusOK, Body: row})
		return pipeline.ContinueDecision()

	case schemagen.ActionCreate:
		row, err := engine.Create(ctx, table, req.Body, subject)
		if err != nil {
			return pipeline.ErrorDecision(err)
		}
		state.Result = row
		state.Set("response", &pipeline.Response{Status: http.StatusOK, Body: row})
		return pipeline.ContinueDecision()

	case schemagen.ActionUpdate:
		row, err := engine.Update(ctx, table, pkParam, req.Body, subject)
		if err != nil {
			return pipeline.ErrorDecision(err)
		}
		state.Result = row
		state.Set("response", &pipeline.Response{Status: http.StatusOK, Body: row})
		return pipeline.ContinueDecision()

	case schemagen.ActionDelete:
		if err := engine.Delete(ctx, table, pkParam); err != nil {
			return pipeline.ErrorDecision(err)
		}
		state.Set("response", &pipeline.Response{Status: http.StatusNoContent})
		return pipeline.ContinueDecision()

	default: // ActionCustom
		// Pass-through 404 absent a custom module.
		return pipeline.ErrorDecision(apierrors.NotFound("route", req.Path))
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
