package riskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/hotspots"
	"github.com/bturcanu/georisk/pkg/pricing"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/bturcanu/georisk/pkg/tools"
	"github.com/bturcanu/georisk/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeStore struct {
	mu     sync.Mutex
	rows   map[int64]types.RiskRecord
	nextID int64
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[int64]types.RiskRecord{}, nextID: 1}
}

func (f *fakeStore) List(_ context.Context, country, city string) ([]types.RiskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []types.RiskRecord
	for id := int64(1); id < f.nextID; id++ {
		rec, ok := f.rows[id]
		if !ok {
			continue
		}
		if country != "" && rec.Country != country {
			continue
		}
		if city != "" && rec.City != city {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*types.RiskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) Upsert(_ context.Context, in types.RiskRecordInput) (*types.RiskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for id, rec := range f.rows {
		if rec.Country == in.Country && rec.City == in.City {
			rec.Latitude, rec.Longitude, rec.RiskLevel = in.Latitude, in.Longitude, in.RiskLevel
			f.rows[id] = rec
			return &rec, nil
		}
	}
	rec := types.RiskRecord{ID: f.nextID, Country: in.Country, City: in.City, Latitude: in.Latitude, Longitude: in.Longitude, RiskLevel: in.RiskLevel}
	f.rows[rec.ID] = rec
	f.nextID++
	return &rec, nil
}

func (f *fakeStore) Update(_ context.Context, id int64, p types.RiskRecordPatch) (*types.RiskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	if p.RiskLevel != nil {
		rec.RiskLevel = *p.RiskLevel
	}
	if p.City != nil {
		rec.City = *p.City
	}
	f.rows[id] = rec
	return &rec, nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return false, nil
	}
	delete(f.rows, id)
	return true, nil
}

type fakeEngine struct{}

func (fakeEngine) DefaultSet() string { return "travel_advisory" }

func (fakeEngine) Evaluate(_ context.Context, factor, _ string) (types.ScoreResult, error) {
	if factor != sources.FactorMilitary {
		return types.ScoreResult{}, fmt.Errorf("aggregate.Evaluate: unknown factor %q", factor)
	}
	v := 12.0
	return types.ScoreResult{Score: 0.4, Value: &v, Source: "gdelt"}, nil
}

func (fakeEngine) Compute(_ context.Context, set, _ string) (types.CompositeRiskScore, error) {
	if set != "travel_advisory" && set != "hazard_market" {
		return types.CompositeRiskScore{}, fmt.Errorf("aggregate.Compute: unknown factor set %q", set)
	}
	return types.CompositeRiskScore{RiskLevel: 42.5, FactorSet: set, Errors: []string{}}, nil
}

type fakeAdvisories struct{ asked []string }

func (f *fakeAdvisories) Levels(_ context.Context, countries []string) []sources.CountryLevel {
	f.asked = countries
	level := 2
	out := make([]sources.CountryLevel, 0, len(countries))
	for _, c := range countries {
		out = append(out, sources.CountryLevel{Country: c, Level: &level})
	}
	return out
}

type fakePrices struct{}

func (fakePrices) Report(context.Context) *pricing.Report {
	return &pricing.Report{Unit: pricing.Unit, Items: []pricing.Item{{Country: "Japan"}}}
}

type fakeHotspots struct {
	err          error
	lastQuery    string
	lastTimespan string
}

func (f *fakeHotspots) Latest() hotspots.Snapshot {
	return hotspots.Snapshot{Query: hotspots.DefaultQuery, Timespan: sources.TimespanHotspot, Features: []sources.Feature{}}
}

func (f *fakeHotspots) Refresh(_ context.Context, query, timespan string) (hotspots.Snapshot, error) {
	f.lastQuery, f.lastTimespan = query, timespan
	if f.err != nil {
		return hotspots.Snapshot{}, f.err
	}
	return hotspots.Snapshot{Query: query, Timespan: timespan, Features: []sources.Feature{}}, nil
}

type fakeSearch struct {
	queries []string
}

func (f *fakeSearch) Query(_ context.Context, query string) (*sources.SearchReport, error) {
	f.queries = append(f.queries, query)
	if query == "offline" {
		return nil, &types.UpstreamError{URL: "https://api.duckduckgo.com/", StatusCode: 429}
	}
	return &sources.SearchReport{
		Query:       query,
		RetrievedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Results:     []sources.SearchResult{{Title: "Kinmen", Href: "https://example.org/kinmen", Body: "Islands"}},
	}, nil
}

type fakeTools struct {
	descs []types.ToolDescriptor
}

func (f *fakeTools) Descriptors() []types.ToolDescriptor { return f.descs }

func (f *fakeTools) Call(_ context.Context, name string, args map[string]any) (*types.ToolCallResult, error) {
	switch name {
	case "get_risk":
		return &types.ToolCallResult{Structured: true, Value: map[string]any{"country": args["country"]}}, nil
	case "delete_risk":
		return nil, &types.MissingParameterError{Tool: name, Param: "id"}
	case "flaky":
		return nil, &types.UpstreamError{Tool: name, StatusCode: 503}
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownTool, name)
	}
}

// ── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	router     http.Handler
	api        *API
	store      *fakeStore
	bus        *broadcast.Bus
	advisories *fakeAdvisories
	hotspots   *fakeHotspots
	search     *fakeSearch
}

const manifest = `[
  {"type":"function","function":{"name":"get_risk","description":"Read rows",
   "parameters":{"type":"object","properties":{"country":{"type":"string"}}},
   "request":{"method":"GET","path":"/api/risk"}}}
]`

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	descs, err := tools.ParseJSON([]byte(manifest))
	require.NoError(t, err)

	h := &harness{
		store:      newFakeStore(),
		bus:        broadcast.New(10, log),
		advisories: &fakeAdvisories{},
		hotspots:   &fakeHotspots{},
		search:     &fakeSearch{},
	}
	h.api = New(Deps{
		Log:        log,
		Store:      h.store,
		Engine:     fakeEngine{},
		Advisories: h.advisories,
		Prices:     fakePrices{},
		Hotspots:   h.hotspots,
		Search:     h.search,
		Tools:      &fakeTools{descs: descs},
		Bus:        h.bus,
		Countries:  []string{"Japan", "Vietnam"},
	})
	h.api.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	h.api.Routes(r)
	StreamRoutes(r, h.bus)
	h.router = r
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) subscribe(t *testing.T, topic broadcast.Topic) *broadcast.Subscriber {
	t.Helper()
	s, err := h.bus.Subscribe(topic)
	require.NoError(t, err)
	t.Cleanup(func() { h.bus.Unsubscribe(s) })
	return s
}

func next(t *testing.T, s *broadcast.Subscriber) string {
	t.Helper()
	select {
	case msg := <-s.Events():
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return ""
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var apiErr types.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr.Code
}

// ── Risk records ─────────────────────────────────────────────────────────────

func TestRiskLifecycle(t *testing.T) {
	h := newHarness(t)
	events := h.subscribe(t, broadcast.TopicScores)

	rec := h.do(t, http.MethodPost, "/api/risk", `{"country":"Japan","city":"Tokyo","latitude":35.68,"longitude":139.69,"risk_level":33}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created types.RiskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(1), created.ID)
	require.JSONEq(t, `{"type":"risk_updated","id":1,"at":"2025-03-01T12:00:00Z"}`, next(t, events))

	// Same country and city updates in place.
	rec = h.do(t, http.MethodPost, "/api/risk", `{"country":"Japan","city":"Tokyo","latitude":35.68,"longitude":139.69,"risk_level":40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.store.rows, 1)
	next(t, events)

	rec = h.do(t, http.MethodGet, "/api/risk?country=Japan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []types.RiskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, 40.0, rows[0].RiskLevel)

	rec = h.do(t, http.MethodPut, "/api/risk/1", `{"risk_level":55}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 55.0, h.store.rows[1].RiskLevel)
	next(t, events)

	rec = h.do(t, http.MethodGet, "/api/risk/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.RiskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Tokyo", got.City)
	require.Equal(t, 55.0, got.RiskLevel)

	rec = h.do(t, http.MethodDelete, "/api/risk/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"deleted"}`, rec.Body.String())
	require.JSONEq(t, `{"type":"risk_updated","id":1,"at":"2025-03-01T12:00:00Z"}`, next(t, events))

	rec = h.do(t, http.MethodGet, "/api/risk/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRiskNotFoundOnlyWhenFiltered(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/risk?country=Atlantis", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/risk?city=Nowhere", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRiskWriteErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, "/api/risk", `{`, http.StatusBadRequest},
		{"missing country", http.MethodPost, "/api/risk", `{"risk_level":10}`, http.StatusUnprocessableEntity},
		{"risk out of range", http.MethodPost, "/api/risk", `{"country":"Japan","risk_level":101}`, http.StatusUnprocessableEntity},
		{"bad id", http.MethodPut, "/api/risk/abc", `{}`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/risk/99", `{"risk_level":5}`, http.StatusNotFound},
		{"invalid patch", http.MethodPut, "/api/risk/1", `{"latitude":91}`, http.StatusUnprocessableEntity},
		{"delete missing", http.MethodDelete, "/api/risk/99", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestListRiskStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("connection refused")

	rec := h.do(t, http.MethodGet, "/api/risk", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

// ── Scores and feeds ─────────────────────────────────────────────────────────

func TestScores(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/score/military?country=Japan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sub types.ScoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.Equal(t, 0.4, sub.Score)

	rec = h.do(t, http.MethodGet, "/api/score/weather?country=Japan", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/score/military", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/score/overall?country=Japan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var overall types.CompositeRiskScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overall))
	require.Equal(t, "travel_advisory", overall.FactorSet)
	require.Equal(t, 42.5, overall.RiskLevel)

	rec = h.do(t, http.MethodGet, "/api/score/overall?country=Japan&factor_set=hazard_market", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"factor_set":"hazard_market"`)

	rec = h.do(t, http.MethodGet, "/api/score/overall?country=Japan&factor_set=nope", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTravelAdvisoriesUsesConfiguredCountries(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/travel_advisories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Japan", "Vietnam"}, h.advisories.asked)

	var body struct {
		Items       []sources.CountryLevel `json:"items"`
		RetrievedAt time.Time              `json:"retrieved_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	require.Equal(t, 2, *body.Items[0].Level)
}

func TestPrice(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/price", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"unit":"troy oz"`)
}

func TestUnconfiguredServices(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := New(Deps{Log: log, Bus: broadcast.New(1, log)})
	r := chi.NewRouter()
	api.Routes(r)

	for _, target := range []string{"/api/price", "/api/travel_advisories", "/api/gdelt", "/api/search?query=x"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

// ── Map actions ──────────────────────────────────────────────────────────────

func TestMapActions(t *testing.T) {
	h := newHarness(t)
	events := h.subscribe(t, broadcast.TopicMapActions)

	rec := h.do(t, http.MethodPost, "/api/map-actions", `{"place":"  Tokyo "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"type":"zoom_to_place","center":[139.6917,35.6895]}`, next(t, events))

	rec = h.do(t, http.MethodPost, "/api/map-actions", `{"place":"Atlantis","latitude":"10.5","longitude":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"type":"zoom_to_place","center":[20,10.5]}`, next(t, events))

	rec = h.do(t, http.MethodGet, "/api/map-actions", "")
	require.JSONEq(t, `{"actions":[
		{"type":"zoom_to_place","center":[139.6917,35.6895]},
		{"type":"zoom_to_place","center":[20,10.5]}]}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/map-actions", "")
	require.JSONEq(t, `{"actions":[]}`, rec.Body.String())
}

func TestMapActionErrors(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/map-actions", `{"place":"Atlantis"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "latitude")

	rec = h.do(t, http.MethodPost, "/api/map-actions", `{"latitude":"north","longitude":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "must be numbers")
}

func TestMapActionQueueBounded(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < maxPendingActions+5; i++ {
		rec := h.do(t, http.MethodPost, "/api/map-actions", fmt.Sprintf(`{"latitude":%d,"longitude":0}`, i%90))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.pending, maxPendingActions)
	require.Equal(t, 5.0, h.api.pending[0].Center[1])
}

// ── Hotspots ─────────────────────────────────────────────────────────────────

func TestSearch(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/search?query=kinmen+shelling", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"query":"kinmen shelling","retrieved_at":"2025-03-01T12:00:00Z",
		"results":[{"title":"Kinmen","href":"https://example.org/kinmen","body":"Islands"}]}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/search?query=%20", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, []string{"kinmen shelling"}, h.search.queries)

	rec = h.do(t, http.MethodGet, "/api/search?query=offline", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "UPSTREAM_ERROR", errorCode(t, rec))
}

func TestHotspots(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/gdelt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"query":"military"`)

	rec = h.do(t, http.MethodPost, "/api/gdelt", `{"query":"protest","timespan":"3d"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "protest", h.hotspots.lastQuery)
	require.Equal(t, "3d", h.hotspots.lastTimespan)

	rec = h.do(t, http.MethodPost, "/api/gdelt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, h.hotspots.lastQuery)

	h.hotspots.err = errors.New("gdelt: status 429")
	rec = h.do(t, http.MethodPost, "/api/gdelt", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

// ── Tools ────────────────────────────────────────────────────────────────────

func TestListTools(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	descs, err := tools.ParseJSON(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "get_risk", descs[0].Name)
	require.Equal(t, types.MethodGet, descs[0].Method)
}

func TestInvokeTool(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/tools/get_risk/invoke", `{"arguments":{"country":"Japan"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.InvokeToolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "get_risk", resp.Tool)
	require.True(t, resp.Structured)
	require.Equal(t, map[string]any{"country": "Japan"}, resp.Result)

	tests := []struct {
		tool   string
		status int
		code   string
	}{
		{"delete_risk", http.StatusBadRequest, "MISSING_PARAMETER"},
		{"flaky", http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"nope", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/tools/"+tt.tool+"/invoke", "")
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestComputeRisk(t *testing.T) {
	h := newHarness(t)
	events := h.subscribe(t, broadcast.TopicScores)

	rec := h.do(t, http.MethodPost, "/tool/compute_risk", `{
		"country":"Japan","city":"Osaka","latitude":34.69,"longitude":135.5,
		"signals":{"military":0.5,"economy":"0.5","safety":0.5,"hazard":0.5}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp computeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 50.0, resp.RiskLevel)
	require.Equal(t, "signals", resp.Composite.FactorSet)
	require.Equal(t, "Osaka", resp.DB.City)
	require.Equal(t, 50.0, h.store.rows[resp.DB.ID].RiskLevel)
	next(t, events)

	// Highest risk: every risk signal maxed, every protective signal zero.
	rec = h.do(t, http.MethodPost, "/tool/compute_risk", `{"country":"Japan","city":"Osaka",
		"signals":{"military":1,"economy":0,"safety":0,"hazard":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 100.0, resp.RiskLevel)
}

func TestComputeRiskRejectsBadSignals(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{
		`{"country":"Japan","signals":{"military":0.5,"economy":0.5,"safety":0.5}}`,
		`{"country":"Japan","signals":{"military":"high","economy":0.5,"safety":0.5,"hazard":0.1}}`,
		`{"country":"Japan"}`,
	} {
		rec := h.do(t, http.MethodPost, "/tool/compute_risk", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Empty(t, h.store.rows)

	rec := h.do(t, http.MethodPost, "/tool/compute_risk", `{"signals":{"military":0,"economy":0,"safety":0,"hazard":0}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ── Streams ──────────────────────────────────────────────────────────────────

func TestWebsocketUnknownTopic(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/ws/weather", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRiskEventStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/risk/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.bus.Subscribers(broadcast.TopicScores) == 1 }, time.Second, 10*time.Millisecond)
	rec := h.do(t, http.MethodPost, "/api/risk", `{"country":"Japan","risk_level":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), `data: {"type":"risk_updated","id":1`)
}
