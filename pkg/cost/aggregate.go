package cost

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Aggregate turns the complete record set of q into a Summary.
//
// Records keep their input order and are not deduplicated. The total is an
// exact decimal sum of every amount. All records must share one unit.
func Aggregate(records []Record, q Query) (Summary, error) {
	currency := ""
	total := decimal.Zero
	points := make([]DataPoint, 0, len(records))

	for i, r := range records {
		unit := r.Unit
		if unit == "" {
			unit = DefaultCurrency
		}
		if currency == "" {
			currency = unit
		} else if unit != currency {
			return Summary{}, fmt.Errorf("record %d: unit %q differs from %q", i, unit, currency)
		}

		total = total.Add(r.Amount)
		points = append(points, toDataPoint(r, unit, q))
	}

	if currency == "" {
		currency = DefaultCurrency
	}

	return Summary{
		TotalCost:   total,
		Currency:    currency,
		StartDate:   q.Start,
		EndDate:     q.End,
		Granularity: q.Granularity,
		CostData:    points,
		GroupBy:     slices.Clone(q.GroupBy),
	}, nil
}

func toDataPoint(r Record, unit string, q Query) DataPoint {
	dp := DataPoint{
		Timestamp: r.PeriodStart,
		Amount:    r.Amount,
		Currency:  unit,
	}
	for _, d := range q.GroupBy {
		v := r.Value(d)
		switch d {
		case DimensionService:
			dp.Service = v
		case DimensionRegion:
			dp.Region = v
		case DimensionUsageType:
			dp.UsageType = v
		case DimensionAccount:
			dp.Account = v
		default:
			if dp.Dimensions == nil {
				dp.Dimensions = make(map[string]string, len(q.GroupBy))
			}
			dp.Dimensions[d] = v
		}
	}
	return dp
}
