// Package api exposes the cost summary service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/ngoyal88/costrelay/pkg/service"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// CostService is what the cost endpoints need from the service layer.
type CostService interface {
	GetCostSummary(ctx context.Context, start, end time.Time, granularity string, groupBy []string) (cost.Summary, error)
	GetBreakdown(ctx context.Context, start, end time.Time, granularity, dimension string, topN int) (service.Breakdown, error)
}

// CostAPI serves the cost endpoints.
type CostAPI struct {
	svc CostService
	log zerolog.Logger
}

func NewCostAPI(svc CostService, log zerolog.Logger) *CostAPI {
	return &CostAPI{svc: svc, log: log.With().Str("component", "api").Logger()}
}

// RegisterRoutes registers the cost endpoints under prefix.
func (api *CostAPI) RegisterRoutes(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix+"/costs/cost-summary", api.handleSummary)
	mux.HandleFunc(prefix+"/costs/by-service", api.breakdownHandler(cost.DimensionService))
	mux.HandleFunc(prefix+"/costs/by-account", api.breakdownHandler(cost.DimensionAccount))
}

// dateLayouts are tried in order. Fractional seconds are accepted by all of
// the time layouts; values without an offset are taken as UTC.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Date accepts ISO-8601 timestamps, with or without an offset, or plain
// YYYY-MM-DD dates.
type Date struct{ time.Time }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("date %q is not an ISO-8601 datetime or YYYY-MM-DD", s)
}

type summaryRequest struct {
	StartDate   Date     `json:"start_date"`
	EndDate     Date     `json:"end_date"`
	Granularity string   `json:"granularity"`
	GroupBy     []string `json:"group_by"`
}

type breakdownRequest struct {
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	Granularity string `json:"granularity"`
	TopN        int    `json:"top_n"`
}

type dataPointResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Service   string      `json:"service,omitempty"`
	Region    string      `json:"region,omitempty"`
	UsageType string      `json:"usage_type,omitempty"`
	Account   string      `json:"account,omitempty"`

	Dimensions map[string]string `json:"dimensions,omitempty"`
}

type summaryResponse struct {
	TotalCost   json.Number         `json:"total_cost"`
	Currency    string              `json:"currency"`
	StartDate   time.Time           `json:"start_date"`
	EndDate     time.Time           `json:"end_date"`
	Granularity string              `json:"granularity"`
	CostData    []dataPointResponse `json:"cost_data"`
	GroupBy     []string            `json:"group_by"`
}

type groupResponse struct {
	Key    string      `json:"key"`
	Amount json.Number `json:"amount"`
}

type breakdownResponse struct {
	TotalCost   json.Number     `json:"total_cost"`
	Currency    string          `json:"currency"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Granularity string          `json:"granularity"`
	Dimension   string          `json:"dimension"`
	Groups      []groupResponse `json:"groups"`
}

// number renders an exact decimal as a JSON number.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func toSummaryResponse(s cost.Summary) summaryResponse {
	points := make([]dataPointResponse, len(s.CostData))
	for i, dp := range s.CostData {
		points[i] = dataPointResponse{
			Timestamp: dp.Timestamp,
			Amount:    number(dp.Amount),
			Currency:  dp.Currency,
			Service:   dp.Service,
			Region:    dp.Region,
			UsageType: dp.UsageType,
			Account:   dp.Account,

			Dimensions: dp.Dimensions,
		}
	}
	return summaryResponse{
		TotalCost:   number(s.TotalCost),
		Currency:    s.Currency,
		StartDate:   s.StartDate,
		EndDate:     s.EndDate,
		Granularity: string(s.Granularity),
		CostData:    points,
		GroupBy:     s.GroupBy,
	}
}

func (api *CostAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req summaryRequest
	if err := decode(w, r, &req); err != nil {
		api.respondError(w, r, err)
		return
	}

	summary, err := api.svc.GetCostSummary(r.Context(), req.StartDate.Time, req.EndDate.Time, req.Granularity, req.GroupBy)
	if err != nil {
		api.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (api *CostAPI) breakdownHandler(dimension string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req breakdownRequest
		if err := decode(w, r, &req); err != nil {
			api.respondError(w, r, err)
			return
		}

		b, err := api.svc.GetBreakdown(r.Context(), req.StartDate.Time, req.EndDate.Time, req.Granularity, dimension, req.TopN)
		if err != nil {
			api.respondError(w, r, err)
			return
		}

		groups := make([]groupResponse, len(b.Groups))
		for i, g := range b.Groups {
			groups[i] = groupResponse{Key: g.Key, Amount: number(g.Amount)}
		}
		respondJSON(w, http.StatusOK, breakdownResponse{
			TotalCost:   number(b.Summary.TotalCost),
			Currency:    b.Summary.Currency,
			StartDate:   b.Summary.StartDate,
			EndDate:     b.Summary.EndDate,
			Granularity: string(b.Summary.Granularity),
			Dimension:   b.Dimension,
			Groups:      groups,
		})
	}
}

// decode reads a JSON body. Malformed bodies are invalid queries.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", cost.ErrInvalidQuery, err)
	}
	return nil
}

var kindStatus = map[string]int{
	cost.KindInvalidQuery:        http.StatusBadRequest,
	cost.KindUpstreamUnavailable: http.StatusServiceUnavailable,
	cost.KindInternal:            http.StatusInternalServerError,
}

// respondError maps err onto a status and a body that never carries
// internal detail.
func (api *CostAPI) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		api.log.Debug().Str("path", r.URL.Path).Msg("client went away")
		return
	}
	kind := cost.KindOf(err)
	msg := err.Error()
	switch {
	case errors.Is(err, cost.ErrUpstreamUnavailable):
		api.log.Warn().Err(err).Str("path", r.URL.Path).Msg("billing provider unavailable")
		msg = "Billing provider is unavailable, try again later"
	case kind == cost.KindInternal:
		api.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "Internal server error"
	}
	respondJSON(w, kindStatus[kind], map[string]string{
		"error": msg,
		"kind":  kind,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
