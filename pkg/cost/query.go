// Package cost holds the cost query and summary model together with the
// aggregation rules that turn raw billing records into a summary.
package cost

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Granularity is the width of one billing bucket.
type Granularity string

const (
	Daily   Granularity = "DAILY"
	Monthly Granularity = "MONTHLY"
	Hourly  Granularity = "HOURLY"
)

// DefaultGranularity is used when a request leaves granularity empty.
const DefaultGranularity = Monthly

// DefaultDimension is used when a request asks for no grouping.
const DefaultDimension = "SERVICE"

// MaxGroupBy is the number of dimensions Cost Explorer accepts in one query.
const MaxGroupBy = 2

// Dimension keys that map onto named DataPoint fields.
const (
	DimensionService   = "SERVICE"
	DimensionRegion    = "REGION"
	DimensionUsageType = "USAGE_TYPE"
	DimensionAccount   = "LINKED_ACCOUNT"
)

// knownDimensions lists the Cost Explorer dimension keys accepted for GroupBy.
var knownDimensions = map[string]struct{}{
	"AZ":                   {},
	"BILLING_ENTITY":       {},
	"CACHE_ENGINE":         {},
	"DATABASE_ENGINE":      {},
	"DEPLOYMENT_OPTION":    {},
	"INSTANCE_TYPE":        {},
	"INSTANCE_TYPE_FAMILY": {},
	"INVOICING_ENTITY":     {},
	"LEGAL_ENTITY_NAME":    {},
	"LINKED_ACCOUNT":       {},
	"OPERATING_SYSTEM":     {},
	"OPERATION":            {},
	"PLATFORM":             {},
	"PURCHASE_TYPE":        {},
	"RECORD_TYPE":          {},
	"REGION":               {},
	"RESERVATION_ID":       {},
	"SAVINGS_PLAN_ARN":     {},
	"SAVINGS_PLANS_TYPE":   {},
	"SERVICE":              {},
	"TENANCY":              {},
	"USAGE_TYPE":           {},
	"USAGE_TYPE_GROUP":     {},
}

// ParseGranularity accepts the enumerated values case-insensitively. An empty
// string yields DefaultGranularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(s)))
	switch g {
	case "":
		return DefaultGranularity, nil
	case Daily, Monthly, Hourly:
		return g, nil
	}
	return "", fmt.Errorf("%w: unsupported granularity %q (want DAILY, MONTHLY or HOURLY)", ErrInvalidQuery, s)
}

// Query is a validated, normalized cost query.
type Query struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
	// GroupBy is sorted and free of duplicates.
	GroupBy []string
}

// NewQuery validates the raw parameters and returns the normalized query.
func NewQuery(start, end time.Time, granularity string, groupBy []string) (Query, error) {
	if start.IsZero() || end.IsZero() {
		return Query{}, fmt.Errorf("%w: start and end dates are required", ErrInvalidQuery)
	}
	if end.Before(start) {
		return Query{}, fmt.Errorf("%w: end date %s is before start date %s",
			ErrInvalidQuery, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	g, err := ParseGranularity(granularity)
	if err != nil {
		return Query{}, err
	}
	dims, err := NormalizeGroupBy(groupBy)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Start:       start.UTC(),
		End:         end.UTC(),
		Granularity: g,
		GroupBy:     dims,
	}, nil
}

// NormalizeGroupBy trims, upper-cases, dedupes and sorts the dimensions so that
// order never matters. Empty input falls back to DefaultDimension.
func NormalizeGroupBy(groupBy []string) ([]string, error) {
	out := make([]string, 0, len(groupBy))
	for _, d := range groupBy {
		d = strings.ToUpper(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := knownDimensions[d]; !ok {
			return nil, fmt.Errorf("%w: unsupported group_by dimension %q", ErrInvalidQuery, d)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return []string{DefaultDimension}, nil
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > MaxGroupBy {
		return nil, fmt.Errorf("%w: at most %d group_by dimensions are supported, got %d",
			ErrInvalidQuery, MaxGroupBy, len(out))
	}
	return out, nil
}

// Key is the cache identity of the query. Two queries share a key iff they are
// cache-equivalent.
func (q Query) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s",
		q.Start.UTC().Format(time.RFC3339Nano),
		q.End.UTC().Format(time.RFC3339Nano),
		q.Granularity,
		strings.Join(q.GroupBy, ","),
	)
}
