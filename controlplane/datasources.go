package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// datasourceRequest mirrors infrastructure/config's Datasource YAML
// shape so the same connection parameters can be authored through
// either the config file or the admin API.
type datasourceRequest struct {
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	MaxPoolSize int    `json:"maxPoolSize"`
}

type datasourceConfig struct {
	DSN string `json:"dsn"`
}

func (s *Server) listDatasources(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListDatasources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getDatasource(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.GetDatasource(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) createDatasource(w http.ResponseWriter, r *http.Request) {
	var req datasourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name == "" || req.Driver == "" || req.DSN == "" {
		writeError(w, apierrors.BadRequest("name, driver, and dsn are required"))
		return
	}

	cfg, _ := json.Marshal(datasourceConfig{DSN: req.DSN})
	ds, err := s.store.CreateDatasource(r.Context(), catalog.DatasourceRecord{
		Name:        req.Name,
		Driver:      req.Driver,
		Config:      string(cfg),
		MaxPoolSize: req.MaxPoolSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) updateDatasource(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetDatasource(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req datasourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Driver != "" {
		existing.Driver = req.Driver
	}
	if req.DSN != "" {
		cfg, _ := json.Marshal(datasourceConfig{DSN: req.DSN})
		existing.Config = string(cfg)
	}
	if req.MaxPoolSize != 0 {
		existing.MaxPoolSize = req.MaxPoolSize
	}

	ds, err := s.store.UpdateDatasource(r.Context(), existing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// deleteDatasource removes the catalog row and tears down its pool if
// one is open.
func (s *Server) deleteDatasource(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.GetDatasource(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteDatasource(r.Context(), ds.ID); err != nil {
		writeError(w, err)
		return
	}
	remaining, err := s.store.ListDatasources(r.Context())
	if err == nil {
		byName := make(map[string]catalog.DatasourceRecord, len(remaining))
		for _, rec := range remaining {
			byName[rec.Name] = rec
		}
		s.pools.Reconcile(byName)
	}
	writeJSON(w, http.StatusNoContent, nil)
}
