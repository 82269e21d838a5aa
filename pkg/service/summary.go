// Package service answers cost summary requests from cache or from the
// billing provider.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/ngoyal88/costrelay/pkg/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher retrieves the raw grouped records for a query.
type Fetcher interface {
	FetchUsage(ctx context.Context, q cost.Query) ([]cost.Record, error)
}

// Service computes cost summaries. It is safe for concurrent use.
type Service struct {
	fetcher Fetcher
	store   storage.Store
	log     zerolog.Logger
	group   singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	coalesced atomic.Uint64
}

func New(fetcher Fetcher, store storage.Store, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		store:   store,
		log:     log.With().Str("component", "service").Logger(),
	}
}

// GetCostSummary validates the parameters, then serves the summary from the
// cache or computes it from the provider. Invalid parameters never reach the
// provider. Failures are not cached. Concurrent misses for the same query
// share one upstream call.
func (s *Service) GetCostSummary(ctx context.Context, start, end time.Time, granularity string, groupBy []string) (cost.Summary, error) {
	q, err := cost.NewQuery(start, end, granularity, groupBy)
	if err != nil {
		return cost.Summary{}, err
	}
	return s.Summary(ctx, q)
}

// Summary is GetCostSummary for an already validated query.
func (s *Service) Summary(ctx context.Context, q cost.Query) (cost.Summary, error) {
	if summary, ok := s.lookup(ctx, q); ok {
		s.hits.Add(1)
		cacheHits.Inc()
		return summary, nil
	}
	s.misses.Add(1)
	cacheMisses.Inc()

	// The shared fetch ignores caller cancellation; the billing client bounds
	// each call. Every caller still stops waiting on its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(q.Key(), func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if summary, ok := s.lookup(fetchCtx, q); ok {
			return summary, nil
		}
		return s.compute(fetchCtx, q)
	})

	select {
	case <-ctx.Done():
		return cost.Summary{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.coalesced.Add(1)
			coalesced.Inc()
		}
		if res.Err != nil {
			return cost.Summary{}, s.classify(q, res.Err)
		}
		return res.Val.(cost.Summary).Clone(), nil
	}
}

func (s *Service) lookup(ctx context.Context, q cost.Query) (cost.Summary, bool) {
	summary, ok, err := s.store.Lookup(ctx, q)
	if err != nil {
		s.log.Warn().Err(err).Str("key", q.Key()).Msg("cache lookup failed, fetching upstream")
		return cost.Summary{}, false
	}
	return summary, ok
}

func (s *Service) compute(ctx context.Context, q cost.Query) (cost.Summary, error) {
	records, err := s.fetcher.FetchUsage(ctx, q)
	if err != nil {
		return cost.Summary{}, err
	}

	summary, err := cost.Aggregate(records, q)
	if err != nil {
		return cost.Summary{}, fmt.Errorf("aggregate %d records: %w", len(records), err)
	}

	if err := s.store.Save(ctx, q, summary); err != nil {
		s.log.Warn().Err(err).Str("key", q.Key()).Msg("cache save failed")
	}
	s.log.Debug().
		Str("key", q.Key()).
		Int("records", len(records)).
		Str("total", summary.TotalCost.String()).
		Msg("summary computed")
	return summary, nil
}

// classify passes the known kinds through and wraps everything else as an
// internal error after logging it with the query that caused it.
func (s *Service) classify(q cost.Query, err error) error {
	if errors.Is(err, cost.ErrInvalidQuery) || errors.Is(err, cost.ErrUpstreamUnavailable) || errors.Is(err, cost.ErrInternal) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Error().Err(err).
		Time("start", q.Start).
		Time("end", q.End).
		Str("granularity", string(q.Granularity)).
		Strs("group_by", q.GroupBy).
		Msg("cost summary failed")
	return fmt.Errorf("%w: %v", cost.ErrInternal, err)
}

// Breakdown is a per-group rollup of a summary.
type Breakdown struct {
	Summary   cost.Summary
	Dimension string
	Groups    []cost.GroupTotal
}

// GetBreakdown totals cost per value of a single dimension across the window,
// largest first, limited to topN groups when topN > 0.
func (s *Service) GetBreakdown(ctx context.Context, start, end time.Time, granularity, dimension string, topN int) (Breakdown, error) {
	if topN < 0 {
		return Breakdown{}, fmt.Errorf("%w: top_n must not be negative", cost.ErrInvalidQuery)
	}
	summary, err := s.GetCostSummary(ctx, start, end, granularity, []string{dimension})
	if err != nil {
		return Breakdown{}, err
	}
	groups, err := cost.Breakdown(summary, dimension, topN)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{Summary: summary, Dimension: dimension, Groups: groups}, nil
}

// CacheStats is the store state plus the request-level cache counters. Each
// request counts once, as a hit or as a miss.
type CacheStats struct {
	storage.Stats
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`
}

// Stats reports the cache state.
func (s *Service) Stats(ctx context.Context) (CacheStats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	return CacheStats{
		Stats:     st,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Coalesced: s.coalesced.Load(),
	}, nil
}

// Purge empties the cache.
func (s *Service) Purge(ctx context.Context) (int, error) {
	n, err := s.store.Purge(ctx)
	if err == nil {
		s.log.Info().Int("entries", n).Msg("cache purged")
	}
	return n, err
}
