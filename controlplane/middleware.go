package controlplane

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/apifyhost/apify/infrastructure/errors"
)

// adminKeyMiddleware enforces admin-key authentication: when
// control-plane.admin_key is set, every /apify/admin/* request must
// present X-API-KEY matching it exactly, compared in constant time. An
// empty adminKey disables the check entirely (local/dev config).
func adminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	if adminKey == "" {
		return next
	}
	want := []byte(adminKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-API-KEY"))
		if len(got) != len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, apierrors.Unauthorized("missing or invalid X-API-KEY"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
