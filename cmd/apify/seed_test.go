package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/config"
	"github.com/apifyhost/apify/infrastructure/logging"
)

const seededSpec = `{
  "openapi": "3.0.3",
  "info": {"title": "items-api", "version": "1.0.0"},
  "x-table-schemas": [
    {"tableName": "items", "columns": [
      {"name": "id", "columnType": "INTEGER", "primaryKey": true, "autoIncrement": true},
      {"name": "name", "columnType": "TEXT"}
    ]}
  ],
  "paths": {"/items": {"get": {}}}
}`

func seedTestFixtures(t *testing.T) (*catalog.Store, *config.File) {
	t.Helper()
	ctx := context.Background()
	pool, err := dialect.Open(ctx, "catalog", dialect.SQLite, ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := catalog.New(ctx, pool)
	require.NoError(t, err)

	specPath := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(specPath, []byte(seededSpec), 0o600))

	enabled := true
	cfg := &config.File{
		Datasource: map[string]config.Datasource{
			"primary": {Driver: "sqlite", DSN: ":memory:", MaxPoolSize: 1},
		},
		Listeners: []config.ListenerConfig{{Name: "main", IP: "0.0.0.0", Port: 8080}},
		Auth: []config.AuthConfig{{
			Name: "key-auth", Type: "api-key", Enabled: &enabled,
			ApiKey: &config.ApiKeySpec{Consumers: map[string]string{"dev-key-123": "dev"}},
		}},
		APIs: []config.APIConfig{{Path: specPath, Listeners: []string{"main"}, Datasource: "primary"}},
	}
	return store, cfg
}

func TestSeedCatalog_CreatesEveryConfiguredResource(t *testing.T) {
	ctx := context.Background()
	store, cfg := seedTestFixtures(t)
	logger := logging.New("seed-test", "error", "json")

	require.NoError(t, seedCatalog(ctx, store, cfg, logger))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Datasources, 1)
	assert.Len(t, snap.Listeners, 1)
	assert.Len(t, snap.AuthConfigs, 1)
	require.Len(t, snap.APIs, 1)
	assert.Equal(t, "items-api", snap.APIs[0].Name)
	assert.Equal(t, "1.0.0", snap.APIs[0].Version)
	assert.Equal(t, "primary", snap.APIs[0].DatasourceName)
	assert.Equal(t, []string{"main"}, snap.APIs[0].ListenerNames)
}

// A restart with an unchanged config file must not bump the catalog
// revision; otherwise every boot would force a full reconcile for no
// state change.
func TestSeedCatalog_UnchangedConfigIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, cfg := seedTestFixtures(t)
	logger := logging.New("seed-test", "error", "json")

	require.NoError(t, seedCatalog(ctx, store, cfg, logger))
	before, err := store.MaxRevision(ctx)
	require.NoError(t, err)

	require.NoError(t, seedCatalog(ctx, store, cfg, logger))
	after, err := store.MaxRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSeedCatalog_UnreadableAPIPathDegradesOnlyThatAPI(t *testing.T) {
	ctx := context.Background()
	store, cfg := seedTestFixtures(t)
	cfg.APIs = append(cfg.APIs, config.APIConfig{Path: "/does/not/exist.json", Listeners: []string{"main"}, Datasource: "primary"})
	logger := logging.New("seed-test", "error", "json")

	require.NoError(t, seedCatalog(ctx, store, cfg, logger))

	apis, err := store.ListAPIs(ctx)
	require.NoError(t, err)
	assert.Len(t, apis, 1, "the readable API must still be seeded")
}
