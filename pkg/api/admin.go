package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/ngoyal88/costrelay/pkg/service"
)

// CacheAdmin is the cache control surface the admin API needs.
type CacheAdmin interface {
	Stats(ctx context.Context) (service.CacheStats, error)
	Purge(ctx context.Context) (int, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminAPI provides endpoints for operating the result cache
type AdminAPI struct {
	cache    CacheAdmin
	health   Pinger
	adminKey string // Simple admin authentication
}

// NewAdminAPI creates a new admin API handler
func NewAdminAPI(cache CacheAdmin, health Pinger, adminKey string) *AdminAPI {
	return &AdminAPI{
		cache:    cache,
		health:   health,
		adminKey: adminKey,
	}
}

// RegisterRoutes registers admin endpoints
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/cache/stats", api.authenticate(api.handleCacheStats))
	mux.HandleFunc("/admin/cache/purge", api.authenticate(api.handleCachePurge))

	// System
	mux.HandleFunc("/admin/health", HealthHandler(api.health))
}

// authenticate middleware checks admin key
func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Key")
		if api.adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(api.adminKey)) != 1 {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

// handleCacheStats reports cache size and hit counts
func (api *AdminAPI) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := api.cache.Stats(ctx)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to get stats: %v", err),
		})
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleCachePurge drops every cached summary
func (api *AdminAPI) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n, err := api.cache.Purge(ctx)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("Failed to purge cache: %v", err),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"purged":  n,
		"message": "Cache purged",
	})
}

// HealthHandler returns system health. A failing cache backend degrades the
// status but still answers 200 so the process is not restarted for it.
func HealthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		}

		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := p.Ping(ctx); err != nil {
				health["cache"] = "unhealthy"
				health["status"] = "degraded"
			} else {
				health["cache"] = "healthy"
			}
		}

		respondJSON(w, http.StatusOK, health)
	}
}
