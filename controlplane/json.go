package controlplane

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// decodeJSON reads and decodes a JSON request body. Strict decode:
// unknown fields get an explicit 400 instead of a silently-ignored
// typo.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeJSON writes status and body as JSON.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its HTTP status and writes the
// ServiceError body, or a generic 500 for an error outside the
// taxonomy.
func writeError(w http.ResponseWriter, err error) {
	status := apierrors.GetHTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if se := apierrors.GetServiceError(err); se != nil {
		_ = json.NewEncoder(w).Encode(se)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
