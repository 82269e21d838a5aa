// Package billing queries AWS Cost Explorer for grouped unblended cost.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Metric requested from Cost Explorer.
const Metric = "UnblendedCost"

const (
	dateLayout = "2006-01-02"
	hourLayout = "2006-01-02T15:04:05Z"

	defaultTimeout = 30 * time.Second
)

// CostExplorerAPI is the subset of the Cost Explorer client used here.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Options tune a Client.
type Options struct {
	// Timeout bounds each upstream page request.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive upstream failures that
	// opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      zerolog.Logger
}

// Client fetches grouped cost records. It is safe for concurrent use.
type Client struct {
	api     CostExplorerAPI
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// New wraps api. Zero option values fall back to defaults.
func New(api CostExplorerAPI, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		api:     api,
		timeout: opts.Timeout,
		log:     opts.Logger.With().Str("component", "billing").Logger(),
	}
	threshold := opts.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cost-explorer",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A rejected or abandoned query says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, cost.ErrInvalidQuery) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			breakerState.Set(float64(to))
		},
	})
	return c
}

// FetchUsage returns every grouped cost record Cost Explorer reports for q,
// following pagination until the result set is complete.
func (c *Client) FetchUsage(ctx context.Context, q cost.Query) ([]cost.Record, error) {
	input := buildInput(q)

	var records []cost.Record
	for page := 1; ; page++ {
		out, err := c.fetchPage(ctx, input)
		if err != nil {
			return nil, err
		}

		dims := responseDimensions(out.GroupDefinitions, q.GroupBy)
		for _, result := range out.ResultsByTime {
			recs, err := toRecords(result, dims)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			records = append(records, recs...)
		}

		next := aws.ToString(out.NextPageToken)
		if next == "" {
			c.log.Debug().Int("pages", page).Int("records", len(records)).Msg("cost and usage fetched")
			return records, nil
		}
		input.NextPageToken = aws.String(next)
	}
}

func (c *Client) fetchPage(ctx context.Context, input *costexplorer.GetCostAndUsageInput) (*costexplorer.GetCostAndUsageOutput, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		out, err := c.api.GetCostAndUsage(callCtx, input)
		upstreamLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, classify(err)
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: cost explorer circuit open", cost.ErrUpstreamUnavailable)
		}
		upstreamErrors.WithLabelValues(cost.KindOf(err)).Inc()
		return nil, err
	}
	return res.(*costexplorer.GetCostAndUsageOutput), nil
}

func buildInput(q cost.Query) *costexplorer.GetCostAndUsageInput {
	start, end := timePeriod(q)

	groups := make([]types.GroupDefinition, 0, len(q.GroupBy))
	for _, dim := range q.GroupBy {
		groups = append(groups, types.GroupDefinition{
			Type: types.GroupDefinitionTypeDimension,
			Key:  aws.String(dim),
		})
	}

	return &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start),
			End:   aws.String(end),
		},
		Granularity: types.Granularity(q.Granularity),
		Metrics:     []string{Metric},
		GroupBy:     groups,
	}
}

// timePeriod formats the query window. Cost Explorer treats End as exclusive
// and rejects empty windows, so a window that collapses to a single instant
// is widened by one granularity step.
func timePeriod(q cost.Query) (string, string) {
	layout, step := dateLayout, func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	if q.Granularity == cost.Hourly {
		layout, step = hourLayout, func(t time.Time) time.Time { return t.Add(time.Hour) }
	}

	start := q.Start.UTC().Format(layout)
	end := q.End.UTC().Format(layout)
	if end <= start {
		end = step(q.Start.UTC()).Format(layout)
	}
	return start, end
}

// responseDimensions names the positions of Group.Keys. The response's own
// group definitions win; the requested order is the fallback.
func responseDimensions(defs []types.GroupDefinition, requested []string) []string {
	if len(defs) == 0 {
		return requested
	}
	dims := make([]string, len(defs))
	for i, d := range defs {
		dims[i] = aws.ToString(d.Key)
	}
	return dims
}

func toRecords(result types.ResultByTime, dims []string) ([]cost.Record, error) {
	var period string
	if result.TimePeriod != nil {
		period = aws.ToString(result.TimePeriod.Start)
	}
	periodStart, err := parsePeriod(period)
	if err != nil {
		return nil, err
	}

	out := make([]cost.Record, 0, len(result.Groups))
	for _, g := range result.Groups {
		if len(g.Keys) > len(dims) {
			return nil, fmt.Errorf("group has %d keys but %d dimensions were defined", len(g.Keys), len(dims))
		}

		mv, ok := g.Metrics[Metric]
		if !ok {
			return nil, fmt.Errorf("group %v has no %s metric", g.Keys, Metric)
		}
		amount, err := decimal.NewFromString(aws.ToString(mv.Amount))
		if err != nil {
			return nil, fmt.Errorf("group %v: parse amount %q: %w", g.Keys, aws.ToString(mv.Amount), err)
		}

		keys := make([]cost.GroupKey, len(g.Keys))
		for i, v := range g.Keys {
			keys[i] = cost.GroupKey{Dimension: dims[i], Value: v}
		}
		out = append(out, cost.Record{
			PeriodStart: periodStart,
			Keys:        keys,
			Amount:      amount,
			Unit:        aws.ToString(mv.Unit),
		})
	}
	return out, nil
}

func parsePeriod(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse period start %q: %w", s, err)
	}
	return t.UTC(), nil
}
