package cost

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// GroupTotal is the amount attributed to one group value over the whole window.
type GroupTotal struct {
	Key    string          `json:"key"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown rolls the summary up per value of dimension across all periods.
// Results are ordered by amount descending, then key ascending, and cut to
// topN entries when topN > 0.
func Breakdown(s Summary, dimension string, topN int) ([]GroupTotal, error) {
	field, err := pointField(dimension)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	for _, dp := range s.CostData {
		k := field(dp)
		totals[k] = totals[k].Add(dp.Amount)
	}

	out := make([]GroupTotal, 0, len(totals))
	for k, v := range totals {
		out = append(out, GroupTotal{Key: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func pointField(dimension string) (func(DataPoint) string, error) {
	switch dimension {
	case DimensionService:
		return func(dp DataPoint) string { return dp.Service }, nil
	case DimensionRegion:
		return func(dp DataPoint) string { return dp.Region }, nil
	case DimensionUsageType:
		return func(dp DataPoint) string { return dp.UsageType }, nil
	case DimensionAccount:
		return func(dp DataPoint) string { return dp.Account }, nil
	}
	return nil, fmt.Errorf("%w: cannot break down by %q", ErrInvalidQuery, dimension)
}
