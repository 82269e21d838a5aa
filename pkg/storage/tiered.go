package storage

import (
	"context"
	"errors"

	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/rs/zerolog"
)

// TieredStore reads the in-process L1 first and falls back to a shared L2,
// copying L2 hits into L1. Writes go to both tiers.
type TieredStore struct {
	l1  Store
	l2  Store
	log zerolog.Logger
}

func NewTieredStore(l1, l2 Store, log zerolog.Logger) *TieredStore {
	return &TieredStore{l1: l1, l2: l2, log: log.With().Str("component", "storage").Logger()}
}

// Lookup never fails because of L2: its errors are logged and count as a miss.
func (t *TieredStore) Lookup(ctx context.Context, q cost.Query) (cost.Summary, bool, error) {
	if s, ok, err := t.l1.Lookup(ctx, q); err == nil && ok {
		return s, true, nil
	}

	s, ok, err := t.l2.Lookup(ctx, q)
	if err != nil {
		t.log.Warn().Err(err).Str("key", q.Key()).Msg("l2 lookup failed, treating as miss")
		return cost.Summary{}, false, nil
	}
	if !ok {
		return cost.Summary{}, false, nil
	}
	if err := t.l1.Save(ctx, q, s); err != nil {
		t.log.Warn().Err(err).Msg("l1 backfill failed")
	}
	return s, true, nil
}

func (t *TieredStore) Save(ctx context.Context, q cost.Query, s cost.Summary) error {
	return errors.Join(t.l1.Save(ctx, q, s), t.l2.Save(ctx, q, s))
}

func (t *TieredStore) Purge(ctx context.Context) (int, error) {
	n1, err1 := t.l1.Purge(ctx)
	n2, err2 := t.l2.Purge(ctx)
	return n1 + n2, errors.Join(err1, err2)
}

func (t *TieredStore) Stats(ctx context.Context) (Stats, error) {
	s1, err := t.l1.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s2, err := t.l2.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend:    "tiered",
		Entries:    s1.Entries,
		TTLSeconds: s1.TTLSeconds,
		Tiers:      []Stats{s1, s2},
	}, nil
}

func (t *TieredStore) Ping(ctx context.Context) error {
	return errors.Join(t.l1.Ping(ctx), t.l2.Ping(ctx))
}
