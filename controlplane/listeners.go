package controlplane

import (
	"net/http"

	"github.com/apifyhost/apify/catalog"
	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

type listenerRequest struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (s *Server) listListeners(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListListeners(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getListener(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.GetListener(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// createListener enforces the listener uniqueness invariants
// (unique Name; (IP, Port) unique with "0.0.0.0 conflicts with any
// other entry on the same port") via catalog.Store.CreateListener.
func (s *Server) createListener(w http.ResponseWriter, r *http.Request) {
	var req listenerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Name == "" || req.IP == "" || req.Port <= 0 {
		writeError(w, apierrors.BadRequest("name, ip, and a positive port are required"))
		return
	}

	l, err := s.store.CreateListener(r.Context(), catalog.ListenerRecord{
		Name:     req.Name,
		IP:       req.IP,
		Port:     req.Port,
		Protocol: "HTTP",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) updateListener(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetListener(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req listenerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.IP != "" {
		existing.IP = req.IP
	}
	if req.Port != 0 {
		existing.Port = req.Port
	}

	updated, err := s.store.UpdateListener(r.Context(), existing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteListener(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteListener(r.Context(), pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
