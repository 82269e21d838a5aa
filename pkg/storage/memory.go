package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ngoyal88/costrelay/pkg/cost"
)

// DefaultCapacity bounds the in-process cache when no size is configured.
const DefaultCapacity = 100

// MemoryStore is a size-bounded LRU with per-entry expiry.
type MemoryStore struct {
	lru      *expirable.LRU[string, cost.Summary]
	capacity int
	ttl      time.Duration
}

// NewMemoryStore creates an LRU holding at most capacity summaries, each for
// at most ttl. capacity <= 0 selects DefaultCapacity; ttl <= 0 disables expiry.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryStore{
		lru:      expirable.NewLRU[string, cost.Summary](capacity, nil, ttl),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (m *MemoryStore) Lookup(_ context.Context, q cost.Query) (cost.Summary, bool, error) {
	s, ok := m.lru.Get(q.Key())
	if !ok {
		return cost.Summary{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, q cost.Query, s cost.Summary) error {
	m.lru.Add(q.Key(), s.Clone())
	return nil
}

func (m *MemoryStore) Purge(_ context.Context) (int, error) {
	n := m.lru.Len()
	m.lru.Purge()
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	return Stats{
		Backend:    "memory",
		Entries:    m.lru.Len(),
		Capacity:   m.capacity,
		TTLSeconds: m.ttl.Seconds(),
	}, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
