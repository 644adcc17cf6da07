package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// apiRequest is the admin-authored shape of the API resource:
// `{"name":"items-api","version":"1.0.0","spec":<openapi doc>}`. Spec
// is accepted as embedded JSON (an object) or a bare JSON string and
// stored as that raw JSON value; schemagen.ParseDocument unwraps a
// JSON string before parsing the document text inside it.
type apiRequest struct {
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	Spec           json.RawMessage `json:"spec"`
	DatasourceName string          `json:"datasourceName"`
	ListenerNames  []string        `json:"listenerNames"`
}

func (s *Server) listAPIs(w http.ResponseWriter, r *http.Request) {
	apis, err := s.store.ListAPIs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apis)
}

func (s *Server) getAPI(w http.ResponseWriter, r *http.Request) {
	api, err := s.store.GetAPI(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api)
}

// createAPI treats re-submitting the same (name, version) as an
// update, not a conflict: the response status tracks whether the
// catalog row was freshly created (201) or already existed (200). A
// fresh row has identical created_at/updated_at stamps.
func (s *Server) createAPI(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name == "" || req.Version == "" || len(req.Spec) == 0 {
		writeError(w, apierrors.BadRequest("name, version, and spec are required"))
		return
	}

	api, err := s.store.UpsertAPI(r.Context(), catalog.APIRecord{
		Name:           req.Name,
		Version:        req.Version,
		Spec:           string(req.Spec),
		DatasourceName: req.DatasourceName,
		ListenerNames:  req.ListenerNames,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if api.CreatedAt.Equal(api.UpdatedAt) {
		status = http.StatusCreated
	}
	writeJSON(w, status, api)
}

func (s *Server) updateAPI(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetAPI(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req apiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Version != "" {
		existing.Version = req.Version
	}
	if len(req.Spec) > 0 {
		existing.Spec = string(req.Spec)
	}
	if req.DatasourceName != "" {
		existing.DatasourceName = req.DatasourceName
	}
	if req.ListenerNames != nil {
		existing.ListenerNames = req.ListenerNames
	}

	api, err := s.store.UpsertAPI(r.Context(), existing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api)
}

func (s *Server) deleteAPI(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAPI(r.Context(), pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
