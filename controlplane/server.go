// Package controlplane is the Admin API: a thin, stateless HTTP
// surface over the catalog.Store plus a direct-SQL passthrough onto
// user datasources for the /data/* routes. An *http.Server around a
// gorilla/mux router, with a single auth middleware wrapping every
// route.
package controlplane

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/apifyhost/apify/catalog"
	"github.com/apifyhost/apify/dataplane"
	"github.com/apifyhost/apify/infrastructure/logging"
)

// adminPrefix is the base path every admin route lives under.
const adminPrefix = "/apify/admin"

// Server hosts the admin API and owns no state of its own beyond what
// it needs to reach the catalog and the /data/* connection pools.
type Server struct {
	store    *catalog.Store
	pools    *dataplane.PoolCache
	adminKey string
	logger   *logging.Logger

	router *mux.Router
	http   *http.Server
}

// New builds a Server bound to store, serving on addr (host:port) once
// Start is called. pools is the connection-pool cache for the /data/*
// routes, shared with the data plane's own cache only when the control
// and data planes run in the same process; a standalone control-plane
// process gets its own cache.
func New(store *catalog.Store, pools *dataplane.PoolCache, adminKey string, logger *logging.Logger, addr string) *Server {
	s := &Server{store: store, pools: pools, adminKey: adminKey, logger: logger}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Router exposes the underlying handler, mainly for tests that want to
// drive requests with httptest without binding a real socket.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	root := mux.NewRouter()
	admin := root.PathPrefix(adminPrefix).Subrouter()
	admin.Use(func(next http.Handler) http.Handler {
		return adminKeyMiddleware(s.adminKey, next)
	})

	admin.HandleFunc("/apis", s.listAPIs).Methods(http.MethodGet)
	admin.HandleFunc("/apis", s.createAPI).Methods(http.MethodPost)
	admin.HandleFunc("/apis/{id}", s.getAPI).Methods(http.MethodGet)
	admin.HandleFunc("/apis/{id}", s.updateAPI).Methods(http.MethodPut)
	admin.HandleFunc("/apis/{id}", s.deleteAPI).Methods(http.MethodDelete)

	admin.HandleFunc("/datasources", s.listDatasources).Methods(http.MethodGet)
	admin.HandleFunc("/datasources", s.createDatasource).Methods(http.MethodPost)
	admin.HandleFunc("/datasources/{id}", s.getDatasource).Methods(http.MethodGet)
	admin.HandleFunc("/datasources/{id}", s.updateDatasource).Methods(http.MethodPut)
	admin.HandleFunc("/datasources/{id}", s.deleteDatasource).Methods(http.MethodDelete)

	admin.HandleFunc("/listeners", s.listListeners).Methods(http.MethodGet)
	admin.HandleFunc("/listeners", s.createListener).Methods(http.MethodPost)
	admin.HandleFunc("/listeners/{id}", s.getListener).Methods(http.MethodGet)
	admin.HandleFunc("/listeners/{id}", s.updateListener).Methods(http.MethodPut)
	admin.HandleFunc("/listeners/{id}", s.deleteListener).Methods(http.MethodDelete)

	admin.HandleFunc("/auth", s.listAuthConfigs).Methods(http.MethodGet)
	admin.HandleFunc("/auth", s.createAuthConfig).Methods(http.MethodPost)
	admin.HandleFunc("/auth/{id}", s.getAuthConfig).Methods(http.MethodGet)
	admin.HandleFunc("/auth/{id}", s.updateAuthConfig).Methods(http.MethodPut)
	admin.HandleFunc("/auth/{id}", s.deleteAuthConfig).Methods(http.MethodDelete)

	admin.HandleFunc("/data/{datasource}/tables", s.listTables).Methods(http.MethodGet)
	admin.HandleFunc("/data/{datasource}/schema/{table}", s.describeTable).Methods(http.MethodGet)
	admin.HandleFunc("/data/{datasource}/{table}/query", s.queryTable).Methods(http.MethodPost)
	admin.HandleFunc("/data/{datasource}/{table}", s.insertRow).Methods(http.MethodPost)
	admin.HandleFunc("/data/{datasource}/{table}/{id}", s.updateRow).Methods(http.MethodPut)
	admin.HandleFunc("/data/{datasource}/{table}/{id}", s.deleteRow).Methods(http.MethodDelete)

	admin.HandleFunc("/_meta/apis", s.exportAPIs).Methods(http.MethodGet)
	admin.HandleFunc("/_meta/apis", s.bulkAPIs).Methods(http.MethodPost)
	admin.HandleFunc("/_meta/import", s.bulkImport).Methods(http.MethodPost)

	return root
}

// Start binds the configured address and serves in the background,
// mirroring dataplane.Listener.Start: a bind failure surfaces
// synchronously, a later Serve failure is logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "control plane serve failed", err, nil)
		}
	}()
	return nil
}

// Shutdown drains in-flight admin requests and closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
