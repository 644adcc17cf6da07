package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// authConfigRequest passes its Config straight through as the
// type-specific JSON settings dataplane/auth.go's buildAuthenticator
// expects (apiKeySpec/oidcSpec, camelCase field names).
type authConfigRequest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

func (s *Server) listAuthConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAuthConfigs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getAuthConfig(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAuthConfig(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) createAuthConfig(w http.ResponseWriter, r *http.Request) {
	var req authConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name == "" || (req.Type != "api-key" && req.Type != "oidc") {
		writeError(w, apierrors.BadRequest("name is required and type must be api-key or oidc"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	a, err := s.store.CreateAuthConfig(r.Context(), catalog.AuthConfigRecord{
		Name:    req.Name,
		Type:    req.Type,
		Enabled: enabled,
		Config:  string(req.Config),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) updateAuthConfig(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetAuthConfig(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req authConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Type != "" {
		existing.Type = req.Type
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if len(req.Config) > 0 {
		existing.Config = string(req.Config)
	}

	a, err := s.store.UpdateAuthConfig(r.Context(), existing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAuthConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAuthConfig(r.Context(), pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
