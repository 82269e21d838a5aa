package cost

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is reported when there are no records to take a unit from.
const DefaultCurrency = "USD"

// GroupKey is one group value together with the dimension that produced it.
type GroupKey struct {
	Dimension string
	Value     string
}

// Record is one grouped bucket as returned by the billing provider.
type Record struct {
	PeriodStart time.Time
	Keys        []GroupKey
	Amount      decimal.Decimal
	Unit        string
}

// Value returns the group value for dimension, or "" when absent.
func (r Record) Value(dimension string) string {
	for _, k := range r.Keys {
		if k.Dimension == dimension {
			return k.Value
		}
	}
	return ""
}

// DataPoint is one bucket of a summary.
type DataPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Service   string          `json:"service,omitempty"`
	Region    string          `json:"region,omitempty"`
	UsageType string          `json:"usage_type,omitempty"`
	Account   string          `json:"account,omitempty"`
	// Dimensions holds group values for dimensions without a named field,
	// such as AZ or INSTANCE_TYPE.
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// Summary is the aggregated answer to a Query. Treat it as immutable; use
// Clone before handing it to code that may modify it.
type Summary struct {
	TotalCost   decimal.Decimal `json:"total_cost"`
	Currency    string          `json:"currency"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Granularity Granularity     `json:"granularity"`
	CostData    []DataPoint     `json:"cost_data"`
	GroupBy     []string        `json:"group_by"`
}

// Clone returns a copy that shares no slices with s.
func (s Summary) Clone() Summary {
	out := s
	out.CostData = slices.Clone(s.CostData)
	for i := range out.CostData {
		out.CostData[i].Dimensions = maps.Clone(out.CostData[i].Dimensions)
	}
	out.GroupBy = slices.Clone(s.GroupBy)
	if out.CostData == nil {
		out.CostData = []DataPoint{}
	}
	return out
}
