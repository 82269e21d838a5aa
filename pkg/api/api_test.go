package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ngoyal88/costrelay/pkg/cost"
	"github.com/ngoyal88/costrelay/pkg/service"
	"github.com/ngoyal88/costrelay/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	summaryErr error
	gotStart   time.Time
	gotEnd     time.Time
	gotGran    string
	gotGroupBy []string
	gotTopN    int
}

func (s *stubService) GetCostSummary(_ context.Context, start, end time.Time, granularity string, groupBy []string) (cost.Summary, error) {
	s.gotStart, s.gotEnd, s.gotGran, s.gotGroupBy = start, end, granularity, groupBy
	if s.summaryErr != nil {
		return cost.Summary{}, s.summaryErr
	}
	q, err := cost.NewQuery(start, end, granularity, groupBy)
	if err != nil {
		return cost.Summary{}, err
	}
	return cost.Aggregate([]cost.Record{
		{PeriodStart: q.Start, Keys: []cost.GroupKey{{Dimension: "SERVICE", Value: "Amazon EC2"}, {Dimension: "LINKED_ACCOUNT", Value: "111111111111"}}, Amount: decimal.RequireFromString("100.00"), Unit: "USD"},
		{PeriodStart: q.Start, Keys: []cost.GroupKey{{Dimension: "SERVICE", Value: "Amazon S3"}, {Dimension: "LINKED_ACCOUNT", Value: "222222222222"}}, Amount: decimal.RequireFromString("50.10"), Unit: "USD"},
	}, q)
}

func (s *stubService) GetBreakdown(ctx context.Context, start, end time.Time, granularity, dimension string, topN int) (service.Breakdown, error) {
	s.gotTopN = topN
	summary, err := s.GetCostSummary(ctx, start, end, granularity, []string{dimension})
	if err != nil {
		return service.Breakdown{}, err
	}
	groups, err := cost.Breakdown(summary, dimension, topN)
	if err != nil {
		return service.Breakdown{}, err
	}
	return service.Breakdown{Summary: summary, Dimension: dimension, Groups: groups}, nil
}

func newMux(svc CostService) *http.ServeMux {
	mux := http.NewServeMux()
	NewCostAPI(svc, zerolog.Nop()).RegisterRoutes(mux, "/api/v1")
	return mux
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCostSummaryEndpoint(t *testing.T) {
	svc := &stubService{}
	rec := post(t, newMux(svc), "/api/v1/costs/cost-summary",
		`{"start_date":"2024-01-01","end_date":"2024-01-31T00:00:00Z","granularity":"MONTHLY","group_by":["SERVICE"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "150.1", string(body["total_cost"]), "total must be a bare JSON number")
	assert.JSONEq(t, `"USD"`, string(body["currency"]))
	assert.JSONEq(t, `["SERVICE"]`, string(body["group_by"]))

	var points []map[string]any
	require.NoError(t, json.Unmarshal(body["cost_data"], &points))
	require.Len(t, points, 2)
	assert.Equal(t, "Amazon EC2", points[0]["service"])
	_, hasRegion := points[0]["region"]
	assert.False(t, hasRegion)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.gotStart)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), svc.gotEnd)
}

func TestCostSummaryPassesDefaultsThrough(t *testing.T) {
	svc := &stubService{}
	rec := post(t, newMux(svc), "/api/v1/costs/cost-summary", `{"start_date":"2024-01-01","end_date":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.gotGran)
	assert.Nil(t, svc.gotGroupBy)
}

func TestCostSummaryErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "malformed json", body: `{"start_date":`, wantStatus: http.StatusBadRequest, wantKind: cost.KindInvalidQuery},
		{name: "bad date", body: `{"start_date":"01/02/2024","end_date":"2024-01-31"}`, wantStatus: http.StatusBadRequest, wantKind: cost.KindInvalidQuery},
		{name: "weekly", body: `{"start_date":"2024-01-01","end_date":"2024-01-31","granularity":"WEEKLY"}`, wantStatus: http.StatusBadRequest, wantKind: cost.KindInvalidQuery},
		{
			name:       "throttled",
			body:       `{"start_date":"2024-01-01","end_date":"2024-01-31"}`,
			err:        fmt.Errorf("%w: ThrottlingException: Rate exceeded", cost.ErrUpstreamUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   cost.KindUpstreamUnavailable,
		},
		{
			name:       "internal",
			body:       `{"start_date":"2024-01-01","end_date":"2024-01-31"}`,
			err:        fmt.Errorf("%w: secret stack detail", cost.ErrInternal),
			wantStatus: http.StatusInternalServerError,
			wantKind:   cost.KindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newMux(&stubService{summaryErr: tt.err}), "/api/v1/costs/cost-summary", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body["kind"])
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "secret stack detail")
		})
	}
}

func TestCostSummaryRejectsGet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/costs/cost-summary", nil)
	rec := httptest.NewRecorder()
	newMux(&stubService{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCostSummaryAcceptsDatetimesWithoutOffset(t *testing.T) {
	svc := &stubService{}
	rec := post(t, newMux(svc), "/api/v1/costs/cost-summary",
		`{"start_date":"2024-01-01T00:00:00","end_date":"2024-01-31T12:30:00.250000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.gotStart)
	assert.Equal(t, time.Date(2024, 1, 31, 12, 30, 0, 250000000, time.UTC), svc.gotEnd)
}

func TestBreakdownEndpoints(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		body          string
		wantDimension string
		wantTopN      int
		wantKeys      []string
		wantAmounts   []json.Number
	}{
		{
			name:          "by service top 1",
			path:          "/api/v1/costs/by-service",
			body:          `{"start_date":"2024-01-01","end_date":"2024-01-31","top_n":1}`,
			wantDimension: "SERVICE",
			wantTopN:      1,
			wantKeys:      []string{"Amazon EC2"},
			wantAmounts:   []json.Number{"100"},
		},
		{
			name:          "by account all groups",
			path:          "/api/v1/costs/by-account",
			body:          `{"start_date":"2024-01-01","end_date":"2024-01-31","granularity":"DAILY"}`,
			wantDimension: "LINKED_ACCOUNT",
			wantTopN:      0,
			wantKeys:      []string{"111111111111", "222222222222"},
			wantAmounts:   []json.Number{"100", "50.1"},
		},
		{
			name:          "by account top 1",
			path:          "/api/v1/costs/by-account",
			body:          `{"start_date":"2024-01-01","end_date":"2024-01-31","top_n":1}`,
			wantDimension: "LINKED_ACCOUNT",
			wantTopN:      1,
			wantKeys:      []string{"111111111111"},
			wantAmounts:   []json.Number{"100"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			rec := post(t, newMux(svc), tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body struct {
				TotalCost json.Number `json:"total_cost"`
				Dimension string      `json:"dimension"`
				Groups    []struct {
					Key    string      `json:"key"`
					Amount json.Number `json:"amount"`
				} `json:"groups"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDimension, body.Dimension)
			assert.Equal(t, json.Number("150.1"), body.TotalCost)
			assert.Equal(t, tt.wantTopN, svc.gotTopN)

			require.Len(t, body.Groups, len(tt.wantKeys))
			for i := range tt.wantKeys {
				assert.Equal(t, tt.wantKeys[i], body.Groups[i].Key)
				assert.Equal(t, tt.wantAmounts[i], body.Groups[i].Amount)
			}
		})
	}
}

func TestCancelledRequestWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/costs/cost-summary",
		strings.NewReader(`{"start_date":"2024-01-01","end_date":"2024-01-31"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	newMux(&stubService{summaryErr: context.Canceled}).ServeHTTP(rec, req)
	assert.Empty(t, rec.Body.String())
}

type fakeCache struct {
	purged  int
	pingErr error
}

func (f *fakeCache) Stats(context.Context) (service.CacheStats, error) {
	return service.CacheStats{
		Stats: storage.Stats{Backend: "memory", Entries: 3, Capacity: 100, TTLSeconds: 3600},
		Hits:  7,
	}, nil
}

func (f *fakeCache) Purge(context.Context) (int, error) {
	f.purged++
	return 3, nil
}

func (f *fakeCache) Ping(context.Context) error { return f.pingErr }

func TestAdminCacheEndpoints(t *testing.T) {
	fc := &fakeCache{}
	mux := http.NewServeMux()
	NewAdminAPI(fc, fc, "admin-secret").RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":3`)
	assert.Contains(t, rec.Body.String(), `"ttl_seconds":3600`)
	assert.Contains(t, rec.Body.String(), `"hits":7`)

	req = httptest.NewRequest(http.MethodPost, "/admin/cache/purge", nil)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fc.purged)
	assert.Contains(t, rec.Body.String(), `"purged":3`)
}

func TestHealthHandler(t *testing.T) {
	fc := &fakeCache{}
	rec := httptest.NewRecorder()
	HealthHandler(fc)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	fc.pingErr = errors.New("redis down")
	rec = httptest.NewRecorder()
	HealthHandler(fc)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
