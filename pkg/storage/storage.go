// Package storage caches computed cost summaries keyed by query.
package storage

import (
	"context"

	"github.com/ngoyal88/costrelay/pkg/cost"
)

// Store defines the interface for caching summaries. Implementations must be
// safe for concurrent use and must never hand out memory shared with a
// stored entry.
type Store interface {
	// Lookup returns the cached summary for q. The bool is false on a miss.
	Lookup(ctx context.Context, q cost.Query) (cost.Summary, bool, error)
	// Save stores s under q, replacing any previous entry.
	Save(ctx context.Context, q cost.Query, s cost.Summary) error
	// Purge drops every entry and reports how many were removed.
	Purge(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)

	// Health check
	Ping(ctx context.Context) error
}

// Stats describes the current state of a store.
type Stats struct {
	Backend    string  `json:"backend"`
	Entries    int     `json:"entries"`
	Capacity   int     `json:"capacity,omitempty"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Tiers      []Stats `json:"tiers,omitempty"`
}
