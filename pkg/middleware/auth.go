package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/ngoyal88/costrelay/pkg/config"
)

// APIKeyAuth rejects requests that do not carry the configured API key in the
// configured header. Settings are read per request, so a config reload that
// rotates the key takes effect immediately.
func APIKeyAuth(store *config.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := store.Get()
			if cfg == nil || !cfg.Auth.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(cfg.Auth.Header)
			if got == "" {
				respondError(w, "Missing API key in "+cfg.Auth.Header+" header", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Auth.APIKey)) != 1 {
				respondError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
