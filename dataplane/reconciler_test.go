package dataplane

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/logging"
	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/schemagen"
)

const itemsAPISpec = `{
  "openapi": "3.0.3",
  "info": {"title": "items-api", "version": "1.0.0"},
  "x-table-schemas": [
    {
      "tableName": "items",
      "columns": [
        {"name": "id", "columnType": "INTEGER", "primaryKey": true, "autoIncrement": true},
        {"name": "name", "columnType": "TEXT"}
      ]
    }
  ],
  "paths": {
    "/items": {
      "get": {},
      "post": {}
    },
    "/items/{id}": {
      "get": {},
      "put": {},
      "delete": {}
    }
  }
}`

func newTestStoreAndLogger(t *testing.T) (*catalog.Store, *logging.Logger) {
	t.Helper()
	ctx := context.Background()
	pool, err := dialect.Open(ctx, "catalog", dialect.SQLite, ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := catalog.New(ctx, pool)
	require.NoError(t, err)
	return store, logging.New("dataplane-test", "error", "json")
}

func TestReconcileOnce_BuildsRoutingTableFromCatalog(t *testing.T) {
	ctx := context.Background()
	store, logger := newTestStoreAndLogger(t)

	_, err := store.CreateDatasource(ctx, catalog.DatasourceRecord{
		Name: "primary", Driver: "sqlite", Config: `{"dsn":":memory:"}`, MaxPoolSize: 1,
	})
	require.NoError(t, err)

	listener, err := store.CreateListener(ctx, catalog.ListenerRecord{Name: "main", IP: "0.0.0.0", Port: 8080})
	require.NoError(t, err)

	_, err = store.UpsertAPI(ctx, catalog.APIRecord{
		Name: "items", Version: "1.0.0", Spec: itemsAPISpec,
		DatasourceName: "primary", ListenerNames: []string{"main"},
	})
	require.NoError(t, err)

	pools := NewPoolCache()
	t.Cleanup(pools.CloseAll)
	rec := NewReconciler(store, pools, logger)
	require.NoError(t, rec.ReconcileOnce(ctx))

	snap := rec.Snapshot()
	assert.Equal(t, int64(3), snap.revision, "three catalog writes preceded this reconcile")
	assert.Len(t, snap.engines, 1)

	res := snap.table.Match(listener.ID, http.MethodGet, "/items")
	require.NotNil(t, res.Binding)
	assert.Equal(t, schemagen.ActionList, res.Binding.Action)
	assert.Equal(t, "items", res.Binding.TargetTable)

	res = snap.table.Match(listener.ID, http.MethodGet, "/items/1")
	require.NotNil(t, res.Binding)
	assert.Equal(t, schemagen.ActionGet, res.Binding.Action)
}

func TestReconcileOnce_NoOpWhenRevisionUnchanged(t *testing.T) {
	ctx := context.Background()
	store, logger := newTestStoreAndLogger(t)

	_, err := store.CreateDatasource(ctx, catalog.DatasourceRecord{
		Name: "primary", Driver: "sqlite", Config: `{"dsn":":memory:"}`, MaxPoolSize: 1,
	})
	require.NoError(t, err)

	pools := NewPoolCache()
	t.Cleanup(pools.CloseAll)
	rec := NewReconciler(store, pools, logger)
	require.NoError(t, rec.ReconcileOnce(ctx))
	first := rec.Snapshot()

	require.NoError(t, rec.ReconcileOnce(ctx))
	second := rec.Snapshot()
	assert.Same(t, first, second, "an unchanged revision must not publish a new snapshot")
}

func TestDefaultModules_XModulesOverlayReplacesByName(t *testing.T) {
	binding := schemagen.OperationBinding{
		Method: http.MethodGet, PathTemplate: "/items", Action: schemagen.ActionList, TargetTable: "items",
		Modules: map[string]json.RawMessage{
			"request_validator": json.RawMessage(`{"disabled":true}`),
			"rate_limit":        json.RawMessage(`{"requestsPerSecond":5,"burst":2}`),
			"access":            json.RawMessage(`["key-auth"]`),
		},
	}

	merged := defaultModules(binding)

	byName := map[string]pipeline.ModuleConfig{}
	for _, cfg := range merged {
		byName[cfg.Name] = cfg
	}

	_, hasValidator := byName["request_validator"]
	assert.False(t, hasValidator, "a disabled overlay must clear the default entry")

	rl, hasRateLimit := byName["rate_limit"]
	require.True(t, hasRateLimit, "an overlay naming a module absent from the defaults must add it")
	settings := rl.Raw.(pipeline.RateLimitConfig)
	assert.Equal(t, 5.0, settings.RequestsPerSecond)
	assert.Equal(t, 2, settings.Burst)

	_, hasAccess := byName["access"]
	assert.False(t, hasAccess, "the legacy access list is security metadata, not a module")

	_, hasCRUD := byName["crud_data"]
	assert.True(t, hasCRUD, "untouched defaults survive the overlay")
}

func TestReconcileOnce_DegradesOnlyTheAffectedAPI(t *testing.T) {
	ctx := context.Background()
	store, logger := newTestStoreAndLogger(t)

	// No matching datasource: this API should be skipped, not fatal.
	_, err := store.UpsertAPI(ctx, catalog.APIRecord{
		Name: "broken", Version: "1.0.0", Spec: itemsAPISpec, DatasourceName: "missing-datasource",
	})
	require.NoError(t, err)

	pools := NewPoolCache()
	t.Cleanup(pools.CloseAll)
	rec := NewReconciler(store, pools, logger)
	require.NoError(t, rec.ReconcileOnce(ctx), "a degraded API must not fail the whole reconcile cycle")

	snap := rec.Snapshot()
	assert.Empty(t, snap.engines)
}
