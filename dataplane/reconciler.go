package dataplane

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/apifyhost/apify/authchain"
	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/crud"
	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/routing"
	"github.com/apifyhost/apify/schemagen"
)

// snapshot is one fully-built, internally consistent view of the data
// plane: a routing table plus the engines and auth chains its bindings
// reference, all derived from the same catalog.Snapshot. Bundling
// routing, engines, and auth chains into a single struct behind one
// atomic.Pointer, rather than swapping the RoutingTable and a separate
// engines map independently, is what keeps a request that matches the
// new generation from ever seeing a stale or missing engine for it.
type snapshot struct {
	revision   int64
	table      *routing.RoutingTable
	engines    map[string]*crud.Engine // by APIRecord.ID
	authChains map[string]authchain.Chain
	listeners  map[string]catalog.ListenerRecord // by Name
}

// Reconciler polls the catalog's revision counter and, on change,
// rebuilds the routing table, CRUD engines, and auth chains from a
// fresh catalog snapshot: fixed interval, diff against the last known
// revision, one structured log line per publish cycle.
type Reconciler struct {
	store  *catalog.Store
	pools  *PoolCache
	logger *logging.Logger

	current atomic.Pointer[snapshot]
	loaded  bool
}

func NewReconciler(store *catalog.Store, pools *PoolCache, logger *logging.Logger) *Reconciler {
	r := &Reconciler{store: store, pools: pools, logger: logger}
	r.current.Store(&snapshot{
		table:      routing.New(),
		engines:    make(map[string]*crud.Engine),
		authChains: make(map[string]authchain.Chain),
		listeners:  make(map[string]catalog.ListenerRecord),
	})
	return r
}

// Snapshot returns the live, immutable view listeners should match and
// execute requests against.
func (r *Reconciler) Snapshot() *snapshot {
	return r.current.Load()
}

// ReconcileOnce runs one cycle of the reconcile loop. A no-op
// revision (nothing changed since the last successful cycle) returns
// nil without touching pools or publishing a new snapshot.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	rev, err := r.store.MaxRevision(ctx)
	if err != nil {
		return err
	}
	if r.loaded && rev == r.current.Load().revision {
		return nil
	}

	cat, err := r.store.Snapshot(ctx)
	if err != nil {
		return err
	}

	datasourcesByName := make(map[string]catalog.DatasourceRecord, len(cat.Datasources))
	for _, ds := range cat.Datasources {
		datasourcesByName[ds.Name] = ds
	}
	listenersByName := make(map[string]catalog.ListenerRecord, len(cat.Listeners))
	for _, l := range cat.Listeners {
		listenersByName[l.Name] = l
	}
	authChains := buildAuthChains(cat.AuthConfigs)

	engines := make(map[string]*crud.Engine, len(cat.APIs))
	builder := routing.NewBuilder(rev)

	for _, api := range cat.APIs {
		if err := r.loadAPI(ctx, api, datasourcesByName, listenersByName, builder, engines); err != nil {
			r.logger.Warn(ctx, "api degraded during reconcile", map[string]interface{}{
				"api": api.Name, "version": api.Version, "error": err.Error(),
			})
		}
	}

	r.pools.Reconcile(datasourcesByName)

	table := routing.New()
	table.Swap(builder)

	r.current.Store(&snapshot{
		revision:   rev,
		table:      table,
		engines:    engines,
		authChains: authChains,
		listeners:  listenersByName,
	})
	r.loaded = true

	r.logger.LogReconcile(ctx, rev, len(cat.APIs), len(cat.Listeners), nil)
	return nil
}

// loadAPI materializes a single API: run the
// SchemaGenerator against its datasource, plan and apply any pending
// migration, build its CRUD engine, and register every operation
// binding for each listener it is attached to. A failure here degrades
// only this API; the caller logs and
// moves on to the next.
func (r *Reconciler) loadAPI(
	ctx context.Context,
	api catalog.APIRecord,
	datasourcesByName map[string]catalog.DatasourceRecord,
	listenersByName map[string]catalog.ListenerRecord,
	builder *routing.Builder,
	engines map[string]*crud.Engine,
) error {
	ds, ok := datasourcesByName[api.DatasourceName]
	if !ok {
		return &missingDatasourceError{name: api.DatasourceName}
	}
	pool, err := r.pools.Get(ctx, ds)
	if err != nil {
		return err
	}

	doc, err := schemagen.ParseDocument([]byte(api.Spec))
	if err != nil {
		return err
	}

	gen := &schemagen.Generator{
		Document:       doc,
		DatasourceName: ds.Name,
		Logger:         zerolog.New(os.Stdout).With().Str("api", api.Name).Logger(),
	}
	result, err := gen.Generate()
	if err != nil {
		return err
	}

	plan, err := schemagen.PlanMigration(ctx, pool, result.Tables)
	if err != nil {
		return err
	}
	if err := applyPlan(ctx, pool, plan, r.logger); err != nil {
		return err
	}

	engine := crud.New(pool, result.Tables, result.Relations)
	engine.Audit = r.logger
	engines[api.ID] = engine

	for _, listenerName := range api.ListenerNames {
		lrec, ok := listenersByName[listenerName]
		if !ok {
			continue
		}
		for _, binding := range result.Bindings {
			builder.Register(lrec.ID, binding, defaultModules(binding), api.ID, api.DatasourceName)
		}
	}
	return nil
}

// applyPlan executes every DDL statement a migration plan emits. Each
// statement is additive (new table, new column) per schemagen.PlanMigration's
// own guarantee; warnings about incompatible live types are logged, not
// enforced.
func applyPlan(ctx context.Context, pool *dialect.Pool, plan *schemagen.Plan, logger *logging.Logger) error {
	for _, stmt := range plan.Statements {
		if _, err := pool.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, warning := range plan.Warnings {
		logger.Warn(ctx, "schema migration warning", map[string]interface{}{"detail": warning})
	}
	return nil
}

// defaultModules assigns the gateway's built-in module set to one
// operation binding: request validation at
// BodyParse, key auth gated on whether the operation declared any
// security requirement, the CRUD engine at Data, static response headers,
// and structured request logging. The operation's own x-modules entries
// overlay these defaults by name with replace semantics.
func defaultModules(binding schemagen.OperationBinding) pipeline.ConfigSet {
	defaults := pipeline.ConfigSet{
		{Name: "request_validator", Phase: pipeline.PhaseBodyParse, Raw: pipeline.RequestValidatorConfig{Enabled: true}},
		{Name: "key_auth", Phase: pipeline.PhaseAccess, Raw: pipeline.KeyAuthConfig{Required: len(binding.SecurityRequirements) > 0}},
		{Name: "crud_data", Phase: pipeline.PhaseData},
		{Name: "response_headers", Phase: pipeline.PhaseResponse, Raw: pipeline.ResponseHeadersConfig{}},
		{Name: "request_logger", Phase: pipeline.PhaseLog},
	}
	return pipeline.Merge(defaults, nil, operationModules(binding))
}

// moduleOverride is the decoded shape of one x-modules entry. Every
// built-in shares the same wire fields; which ones a module honors
// depends on its name.
type moduleOverride struct {
	Disabled          bool              `json:"disabled"`
	Enabled           *bool             `json:"enabled"`
	Required          *bool             `json:"required"`
	RequestsPerSecond float64           `json:"requestsPerSecond"`
	Burst             int               `json:"burst"`
	Headers           map[string]string `json:"headers"`
}

// operationModules decodes an operation's x-modules entries into the
// ConfigSet the pipeline merges over the listener-level defaults. The
// legacy "access" key is a security-requirement list consumed by
// schemagen, not a module config, and is skipped; an entry naming no
// known built-in is skipped too rather than poisoning the whole
// operation with an unknown-module error at request time.
func operationModules(binding schemagen.OperationBinding) pipeline.ConfigSet {
	var out pipeline.ConfigSet
	names := make([]string, 0, len(binding.Modules))
	for name := range binding.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "access" {
			continue
		}
		var ov moduleOverride
		if err := json.Unmarshal(binding.Modules[name], &ov); err != nil {
			continue
		}

		switch name {
		case "request_validator":
			enabled := ov.Enabled == nil || *ov.Enabled
			out = append(out, pipeline.ModuleConfig{Name: name, Phase: pipeline.PhaseBodyParse, Disabled: ov.Disabled, Raw: pipeline.RequestValidatorConfig{Enabled: enabled}})
		case "key_auth", "oauth":
			required := ov.Required == nil || *ov.Required
			out = append(out, pipeline.ModuleConfig{Name: "key_auth", Phase: pipeline.PhaseAccess, Disabled: ov.Disabled, Raw: pipeline.KeyAuthConfig{Required: required}})
		case "rate_limit":
			out = append(out, pipeline.ModuleConfig{Name: name, Phase: pipeline.PhaseAccess, Disabled: ov.Disabled, Raw: pipeline.RateLimitConfig{RequestsPerSecond: ov.RequestsPerSecond, Burst: ov.Burst}})
		case "response_headers":
			out = append(out, pipeline.ModuleConfig{Name: name, Phase: pipeline.PhaseResponse, Disabled: ov.Disabled, Raw: pipeline.ResponseHeadersConfig{Headers: ov.Headers}})
		case "request_logger":
			out = append(out, pipeline.ModuleConfig{Name: name, Phase: pipeline.PhaseLog, Disabled: ov.Disabled})
		}
	}
	return out
}

type missingDatasourceError struct{ name string }

func (e *missingDatasourceError) Error() string {
	return "dataplane: datasource " + e.name + " not found"
}
