package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/dataplane"
	"github.com/apifyhost/apify/dialect"
	"github.com/apifyhost/apify/infrastructure/logging"
)

func newTestServer(t *testing.T, adminKey string) *Server {
	t.Helper()
	ctx := context.Background()
	pool, err := dialect.Open(ctx, "catalog", dialect.SQLite, ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := catalog.New(ctx, pool)
	require.NoError(t, err)

	logger := logging.New("controlplane-test", "error", "json")
	return New(store, dataplane.NewPoolCache(), adminKey, logger, "127.0.0.1:0")
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAdminKeyMiddleware_RejectsMissingKey(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/apify/admin/apis", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminKeyMiddleware_AcceptsCorrectKey(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doJSON(t, s, http.MethodGet, "/apify/admin/apis", nil, map[string]string{"X-API-KEY": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminKeyMiddleware_DisabledWhenUnset(t *testing.T) {
	s := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/apify/admin/apis", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetAPI(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/apify/admin/apis", map[string]any{
		"name": "items-api", "version": "1.0.0", "spec": map[string]any{"openapi": "3.0.3"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created catalog.APIRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "items-api", created.Name)
	require.Equal(t, int64(1), created.Revision)

	rec = doJSON(t, s, http.MethodGet, "/apify/admin/apis/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// Re-submitting the same (name, version) updates rather than conflicts.
func TestCreateAPI_SameNameVersionUpdates(t *testing.T) {
	s := newTestServer(t, "")

	body := map[string]any{"name": "items-api", "version": "1.0.0", "spec": map[string]any{"openapi": "3.0.3"}}
	first := doJSON(t, s, http.MethodPost, "/apify/admin/apis", body, nil)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, s, http.MethodPost, "/apify/admin/apis", body, nil)
	require.Equal(t, http.StatusOK, second.Code)
}

func TestListenerPortConflict(t *testing.T) {
	s := newTestServer(t, "")

	first := doJSON(t, s, http.MethodPost, "/apify/admin/listeners", map[string]any{
		"name": "primary", "ip": "0.0.0.0", "port": 8080,
	}, nil)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, s, http.MethodPost, "/apify/admin/listeners", map[string]any{
		"name": "secondary", "ip": "127.0.0.1", "port": 8080,
	}, nil)
	require.Equal(t, http.StatusConflict, second.Code)
}

func TestDeleteDatasource_NotFound(t *testing.T) {
	s := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodDelete, "/apify/admin/datasources/does-not-exist", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkAPIsAndExport(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/apify/admin/_meta/apis", []map[string]any{
		{"name": "a", "version": "1.0.0", "spec": map[string]any{"openapi": "3.0.3"}},
		{"name": "b", "version": "1.0.0", "spec": map[string]any{"openapi": "3.0.3"}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []bulkAPIResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	require.Equal(t, "created", results[0].Status)
	require.Equal(t, "created", results[1].Status)

	export := doJSON(t, s, http.MethodGet, "/apify/admin/_meta/apis", nil, nil)
	require.Equal(t, http.StatusOK, export.Code)

	var apis []catalog.APIRecord
	require.NoError(t, json.Unmarshal(export.Body.Bytes(), &apis))
	require.Len(t, apis, 2)
}

func TestBulkImport(t *testing.T) {
	s := newTestServer(t, "")

	payload := `
datasource:
  main:
    driver: sqlite
    dsn: ":memory:"
listeners:
  - name: primary
    ip: 0.0.0.0
    port: 8080
auth:
  - name: key-auth
    type: api-key
    config:
      headerName: X-Api-Key
apis:
  - name: items-api
    version: 1.0.0
    spec:
      openapi: 3.0.3
    datasourceName: main
    listenerNames: [primary]
`
	req := httptest.NewRequest(http.MethodPost, "/apify/admin/_meta/import", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []importResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 4)
	for _, r := range results {
		require.Equal(t, "created", r.Status, r.Kind+" "+r.Name+": "+r.Error)
	}
}
