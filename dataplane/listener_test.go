package dataplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/pipeline"
)

func httpBody(s string) *strings.Reader { return strings.NewReader(s) }

func TestHandleHealthz_AlwaysOK(t *testing.T) {
	_, logger := newTestStoreAndLogger(t)
	rec := catalog.ListenerRecord{ID: "listener-1", IP: "127.0.0.1", Port: 0}
	l := &Listener{rec: rec, reconcile: NewReconciler(nil, nil, logger), registry: pipeline.BuiltinRegistry(logger), logger: logger}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	l.handleHealthz(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleRequest_UnknownPathIs404(t *testing.T) {
	_, logger := newTestStoreAndLogger(t)
	registry := pipeline.BuiltinRegistry(logger)
	registerCRUDModule(registry)
	l := &Listener{rec: catalog.ListenerRecord{ID: "listener-1"}, reconcile: NewReconciler(nil, nil, logger), registry: registry, logger: logger}

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	l.handleRequest(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleRequest_FullRoundTripThroughReconciledCatalog(t *testing.T) {
	ctx := context.Background()
	store, logger := newTestStoreAndLogger(t)

	_, err := store.CreateDatasource(ctx, catalog.DatasourceRecord{
		Name: "primary", Driver: "sqlite", Config: `{"dsn":":memory:"}`, MaxPoolSize: 1,
	})
	require.NoError(t, err)
	listenerRec, err := store.CreateListener(ctx, catalog.ListenerRecord{Name: "main", IP: "0.0.0.0", Port: 8080})
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

	registry := pipeline.BuiltinRegistry(logger)
	registerCRUDModule(registry)
	l := newListener(listenerRec, rec, registry, logger)

	createReq := httptest.NewRequest(http.MethodPost, "/items", httpBody(`{"name":"widget"}`))
	createReq.Header.Set("Content-Type", "application/json")
	createRR := httptest.NewRecorder()
	l.handleRequest(createRR, createReq)
	require.Equal(t, http.StatusOK, createRR.Code, createRR.Body.String())

	listReq := httptest.NewRequest(http.MethodGet, "/items", nil)
	listRR := httptest.NewRecorder()
	l.handleRequest(listRR, listReq)
	assert.Equal(t, http.StatusOK, listRR.Code)
	assert.Contains(t, listRR.Body.String(), "widget")

	wrongMethodReq := httptest.NewRequest(http.MethodPatch, "/items", nil)
	wrongMethodRR := httptest.NewRecorder()
	l.handleRequest(wrongMethodRR, wrongMethodReq)
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethodRR.Code)

	xmlReq := httptest.NewRequest(http.MethodPost, "/items", httpBody(`<item/>`))
	xmlReq.Header.Set("Content-Type", "application/xml")
	xmlRR := httptest.NewRecorder()
	l.handleRequest(xmlRR, xmlReq)
	assert.Equal(t, http.StatusUnsupportedMediaType, xmlRR.Code)

	badJSONReq := httptest.NewRequest(http.MethodPost, "/items", httpBody(`{"name":`))
	badJSONReq.Header.Set("Content-Type", "application/json")
	badJSONRR := httptest.NewRecorder()
	l.handleRequest(badJSONRR, badJSONReq)
	assert.Equal(t, http.StatusBadRequest, badJSONRR.Code)
}
