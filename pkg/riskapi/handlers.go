// Package riskapi serves the gateway's REST surface: stored risk records,
// live scores, advisories, prices, map actions, hotspots and tool calls.
package riskapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bturcanu/georisk/pkg/aggregate"
	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/geo"
	"github.com/bturcanu/georisk/pkg/hotspots"
	"github.com/bturcanu/georisk/pkg/pricing"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/bturcanu/georisk/pkg/tools"
	"github.com/bturcanu/georisk/pkg/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes      = 1 << 20 // 1 MB
	maxPendingActions = 100
)

// signalFactors are the observations POST /tool/compute_risk requires.
var signalFactors = []string{
	sources.FactorMilitary,
	sources.FactorEconomy,
	sources.FactorSafety,
	sources.FactorHazard,
}

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

type recordStore interface {
	List(ctx context.Context, country, city string) ([]types.RiskRecord, error)
	Get(ctx context.Context, id int64) (*types.RiskRecord, error)
	Upsert(ctx context.Context, in types.RiskRecordInput) (*types.RiskRecord, error)
	Update(ctx context.Context, id int64, p types.RiskRecordPatch) (*types.RiskRecord, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type scoreEngine interface {
	Compute(ctx context.Context, setName, country string) (types.CompositeRiskScore, error)
	Evaluate(ctx context.Context, factor, country string) (types.ScoreResult, error)
	DefaultSet() string
}

type advisoryLister interface {
	Levels(ctx context.Context, countries []string) []sources.CountryLevel
}

type priceReporter interface {
	Report(ctx context.Context) *pricing.Report
}

type hotspotService interface {
	Latest() hotspots.Snapshot
	Refresh(ctx context.Context, query, timespan string) (hotspots.Snapshot, error)
}

type webSearcher interface {
	Query(ctx context.Context, query string) (*sources.SearchReport, error)
}

type toolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (*types.ToolCallResult, error)
	Descriptors() []types.ToolDescriptor
}

type publisher interface {
	Publish(ctx context.Context, topic broadcast.Topic, event any) error
}

// Deps collects what the handlers need. Nil optional services turn their
// routes into 503s.
type Deps struct {
	Log        *slog.Logger
	Store      recordStore
	Engine     scoreEngine
	Advisories advisoryLister
	Prices     priceReporter
	Hotspots   hotspotService
	Search     webSearcher
	Tools      toolCaller
	Bus        publisher
	Countries  []string
}

type API struct {
	log        *slog.Logger
	store      recordStore
	engine     scoreEngine
	advisories advisoryLister
	prices     priceReporter
	hotspots   hotspotService
	search     webSearcher
	tools      toolCaller
	bus        publisher
	countries  []string
	now        func() time.Time

	mu      sync.Mutex
	pending []types.MapAction
}

func New(d Deps) *API {
	countries := d.Countries
	if len(countries) == 0 {
		countries = sources.APACCountries
	}
	return &API{
		log:        d.Log,
		store:      d.Store,
		engine:     d.Engine,
		advisories: d.Advisories,
		prices:     d.Prices,
		hotspots:   d.Hotspots,
		search:     d.Search,
		tools:      d.Tools,
		bus:        d.Bus,
		countries:  countries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts the request/response routes. Streams are mounted separately
// so they can sit outside the request timeout.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.HandleHealth)

	r.Get("/api/risk", a.HandleListRisk)
	r.Post("/api/risk", a.HandleUpsertRisk)
	r.Get("/api/risk/{id}", a.HandleGetRisk)
	r.Put("/api/risk/{id}", a.HandleUpdateRisk)
	r.Delete("/api/risk/{id}", a.HandleDeleteRisk)

	r.Get("/api/score/overall", a.HandleOverallScore)
	r.Get("/api/score/{factor}", a.HandleFactorScore)
	r.Get("/api/travel_advisories", a.HandleTravelAdvisories)
	r.Get("/api/price", a.HandlePrice)

	r.Get("/api/map-actions", a.HandleDrainMapActions)
	r.Post("/api/map-actions", a.HandlePostMapAction)

	r.Get("/api/gdelt", a.HandleLatestHotspots)
	r.Post("/api/gdelt", a.HandleRefreshHotspots)
	r.Get("/api/search", a.HandleSearch)

	r.Get("/api/tools", a.HandleListTools)
	r.Post("/v1/tools/{name}/invoke", a.HandleInvokeTool)
	r.Post("/tool/compute_risk", a.HandleComputeRisk)
}

// StreamRoutes mounts the SSE and websocket endpoints served by bus.
func StreamRoutes(r chi.Router, bus *broadcast.Bus) {
	r.Get("/api/risk/events", bus.ServeSSE(broadcast.TopicScores))
	r.Get("/api/map-actions/events", bus.ServeSSE(broadcast.TopicMapActions))
	r.Get("/api/hotspots/events", bus.ServeSSE(broadcast.TopicHotspots))
	r.Get("/ws/{topic}", func(w http.ResponseWriter, r *http.Request) {
		topic, err := bus.ParseTopic(chi.URLParam(r, "topic"))
		if err != nil {
			types.ErrNotFound(err.Error()).WriteJSON(w)
			return
		}
		bus.ServeWS(topic)(w, r)
	})
}

func (a *API) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return false
	}
	return true
}

func unavailable(w http.ResponseWriter, what string) {
	(&types.APIError{Code: "UNAVAILABLE", Message: what + " is not configured", HTTPCode: http.StatusServiceUnavailable}).WriteJSON(w)
}

func (a *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(r.Context(), w, map[string]string{"status": "ok"})
}

// ──────────────────────────────────────────────────────────────────────────────
// Risk records
// ──────────────────────────────────────────────────────────────────────────────

// HandleListRisk is GET /api/risk?country=&city=
func (a *API) HandleListRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	country := r.URL.Query().Get("country")
	city := r.URL.Query().Get("city")

	records, err := a.store.List(ctx, country, city)
	if err != nil {
		a.log.ErrorContext(ctx, "list risk failed", "error", err)
		types.ErrInternal("failed to list risk data").WriteJSON(w)
		return
	}
	if (country != "" || city != "") && len(records) == 0 {
		types.ErrNotFound("Not found").WriteJSON(w)
		return
	}
	if records == nil {
		records = []types.RiskRecord{}
	}
	a.writeJSON(ctx, w, records)
}

// HandleGetRisk is GET /api/risk/{id}
func (a *API) HandleGetRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		a.log.ErrorContext(ctx, "get risk failed", "id", id, "error", err)
		types.ErrInternal("failed to read risk data").WriteJSON(w)
		return
	}
	if rec == nil {
		types.ErrNotFound("Not found").WriteJSON(w)
		return
	}
	a.writeJSON(ctx, w, rec)
}

// HandleUpsertRisk is POST /api/risk. Rows are keyed by country and city.
func (a *API) HandleUpsertRisk(w http.ResponseWriter, r *http.Request) {
	var in types.RiskRecordInput
	if !decodeBody(w, r, &in) {
		return
	}
	a.upsert(w, r, in, func(rec *types.RiskRecord) any { return rec })
}

func (a *API) upsert(w http.ResponseWriter, r *http.Request, in types.RiskRecordInput, render func(*types.RiskRecord) any) {
	ctx := r.Context()
	if err := in.Validate(); err != nil {
		types.ErrValidation(err).WriteJSON(w)
		return
	}
	rec, err := a.store.Upsert(ctx, in)
	if err != nil {
		a.log.ErrorContext(ctx, "upsert risk failed", "country", in.Country, "error", err)
		types.ErrInternal("failed to write risk data").WriteJSON(w)
		return
	}
	a.publishRiskUpdated(ctx, rec.ID)
	a.writeJSON(ctx, w, render(rec))
}

// HandleUpdateRisk is PUT /api/risk/{id}
func (a *API) HandleUpdateRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	var patch types.RiskRecordPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		types.ErrValidation(err).WriteJSON(w)
		return
	}

	rec, err := a.store.Update(ctx, id, patch)
	if err != nil {
		a.log.ErrorContext(ctx, "update risk failed", "id", id, "error", err)
		types.ErrInternal("failed to update risk data").WriteJSON(w)
		return
	}
	if rec == nil {
		types.ErrNotFound("Not found").WriteJSON(w)
		return
	}
	a.publishRiskUpdated(ctx, rec.ID)
	a.writeJSON(ctx, w, rec)
}

// HandleDeleteRisk is DELETE /api/risk/{id}
func (a *API) HandleDeleteRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	deleted, err := a.store.Delete(ctx, id)
	if err != nil {
		a.log.ErrorContext(ctx, "delete risk failed", "id", id, "error", err)
		types.ErrInternal("failed to delete risk data").WriteJSON(w)
		return
	}
	if !deleted {
		types.ErrNotFound("Not found").WriteJSON(w)
		return
	}
	a.publishRiskUpdated(ctx, id)
	a.writeJSON(ctx, w, map[string]string{"message": "deleted"})
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		types.ErrBadRequest("invalid id").WriteJSON(w)
		return 0, false
	}
	return id, true
}

func (a *API) publishRiskUpdated(ctx context.Context, id int64) {
	ev := types.RiskUpdatedEvent{Type: "risk_updated", ID: id, At: a.now()}
	if err := a.bus.Publish(ctx, broadcast.TopicScores, ev); err != nil {
		a.log.WarnContext(ctx, "risk event not published", "id", id, "error", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Scores
// ──────────────────────────────────────────────────────────────────────────────

func requireCountry(w http.ResponseWriter, r *http.Request) (string, bool) {
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if country == "" {
		types.ErrBadRequest("country is required").WriteJSON(w)
		return "", false
	}
	return country, true
}

// HandleFactorScore is GET /api/score/{factor}?country=
func (a *API) HandleFactorScore(w http.ResponseWriter, r *http.Request) {
	country, ok := requireCountry(w, r)
	if !ok {
		return
	}
	res, err := a.engine.Evaluate(r.Context(), chi.URLParam(r, "factor"), country)
	if err != nil {
		types.ErrNotFound(err.Error()).WriteJSON(w)
		return
	}
	a.writeJSON(r.Context(), w, res)
}

// HandleOverallScore is GET /api/score/overall?country=&factor_set=
func (a *API) HandleOverallScore(w http.ResponseWriter, r *http.Request) {
	country, ok := requireCountry(w, r)
	if !ok {
		return
	}
	set := r.URL.Query().Get("factor_set")
	if set == "" {
		set = a.engine.DefaultSet()
	}
	out, err := a.engine.Compute(r.Context(), set, country)
	if err != nil {
		types.ErrBadRequest(err.Error()).WriteJSON(w)
		return
	}
	a.writeJSON(r.Context(), w, out)
}

// HandleTravelAdvisories is GET /api/travel_advisories
func (a *API) HandleTravelAdvisories(w http.ResponseWriter, r *http.Request) {
	if a.advisories == nil {
		unavailable(w, "travel advisories")
		return
	}
	items := a.advisories.Levels(r.Context(), a.countries)
	a.writeJSON(r.Context(), w, map[string]any{
		"items":        items,
		"retrieved_at": a.now(),
	})
}

// HandlePrice is GET /api/price
func (a *API) HandlePrice(w http.ResponseWriter, r *http.Request) {
	if a.prices == nil {
		unavailable(w, "pricing")
		return
	}
	a.writeJSON(r.Context(), w, a.prices.Report(r.Context()))
}

// ──────────────────────────────────────────────────────────────────────────────
// Map actions
// ──────────────────────────────────────────────────────────────────────────────

type mapActionRequest struct {
	Place     string `json:"place"`
	Latitude  any    `json:"latitude"`
	Longitude any    `json:"longitude"`
}

// HandlePostMapAction is POST /api/map-actions. A known place wins over
// explicit coordinates.
func (a *API) HandlePostMapAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req mapActionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var lon, lat float64
	if p, ok := geo.LookupPlace(req.Place); ok {
		lon, lat = p.Lon, p.Lat
	} else {
		if req.Latitude == nil || req.Longitude == nil {
			types.ErrBadRequest("pass 'place' (APAC name in map) or 'latitude' and 'longitude'").WriteJSON(w)
			return
		}
		var errLat, errLon error
		lat, errLat = number(req.Latitude)
		lon, errLon = number(req.Longitude)
		if errLat != nil || errLon != nil {
			types.ErrBadRequest("latitude and longitude must be numbers").WriteJSON(w)
			return
		}
	}

	action := types.MapAction{Type: "zoom_to_place", Center: [2]float64{lon, lat}}
	a.mu.Lock()
	a.pending = append(a.pending, action)
	if len(a.pending) > maxPendingActions {
		a.pending = a.pending[len(a.pending)-maxPendingActions:]
	}
	a.mu.Unlock()

	if err := a.bus.Publish(ctx, broadcast.TopicMapActions, action); err != nil {
		a.log.WarnContext(ctx, "map action not published", "error", err)
	}
	a.writeJSON(ctx, w, map[string]any{"ok": true, "action": action})
}

// HandleDrainMapActions is GET /api/map-actions. It returns and clears the
// actions queued since the last call.
func (a *API) HandleDrainMapActions(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	out := a.pending
	a.pending = nil
	a.mu.Unlock()
	if out == nil {
		out = []types.MapAction{}
	}
	a.writeJSON(r.Context(), w, map[string]any{"actions": out})
}

// number accepts a JSON number or a numeric string.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, errors.New("not a number")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Hotspots
// ──────────────────────────────────────────────────────────────────────────────

// HandleLatestHotspots is GET /api/gdelt
func (a *API) HandleLatestHotspots(w http.ResponseWriter, r *http.Request) {
	if a.hotspots == nil {
		unavailable(w, "hotspots")
		return
	}
	a.writeJSON(r.Context(), w, a.hotspots.Latest())
}

type refreshRequest struct {
	Query    string `json:"query"`
	Timespan string `json:"timespan"`
}

// HandleRefreshHotspots is POST /api/gdelt
func (a *API) HandleRefreshHotspots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.hotspots == nil {
		unavailable(w, "hotspots")
		return
	}
	var req refreshRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	snap, err := a.hotspots.Refresh(ctx, req.Query, req.Timespan)
	if err != nil {
		a.log.WarnContext(ctx, "hotspot refresh failed", "error", err)
		(&types.APIError{Code: "UPSTREAM_ERROR", Message: err.Error(), Retryable: true, HTTPCode: http.StatusBadGateway}).WriteJSON(w)
		return
	}
	a.writeJSON(ctx, w, snap)
}

// HandleSearch is GET /api/search?query=
func (a *API) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.search == nil {
		unavailable(w, "search")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		types.ErrBadRequest("query is required").WriteJSON(w)
		return
	}
	report, err := a.search.Query(ctx, query)
	if err != nil {
		a.log.WarnContext(ctx, "web search failed", "query", query, "error", err)
		(&types.APIError{Code: "UPSTREAM_ERROR", Message: err.Error(), Retryable: true, HTTPCode: http.StatusBadGateway}).WriteJSON(w)
		return
	}
	a.log.InfoContext(ctx, "web search", "query", query, "results", len(report.Results))
	a.writeJSON(ctx, w, report)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tools
// ──────────────────────────────────────────────────────────────────────────────

// HandleListTools is GET /api/tools. It serves the loaded manifest in the
// wrapped function form.
func (a *API) HandleListTools(w http.ResponseWriter, r *http.Request) {
	var descs []types.ToolDescriptor
	if a.tools != nil {
		descs = a.tools.Descriptors()
	}
	body, err := tools.Render(descs)
	if err != nil {
		a.log.ErrorContext(r.Context(), "render manifest failed", "error", err)
		types.ErrInternal("failed to render tools").WriteJSON(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// HandleInvokeTool is POST /v1/tools/{name}/invoke
func (a *API) HandleInvokeTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.tools == nil {
		unavailable(w, "tools")
		return
	}
	name := chi.URLParam(r, "name")
	var req types.InvokeToolRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	start := time.Now()
	res, err := a.tools.Call(ctx, name, req.Arguments)
	if err != nil {
		a.log.InfoContext(ctx, "tool invoke failed", "tool", name, "error", err)
		types.ErrFromInvoke(err).WriteJSON(w)
		return
	}
	resp := types.InvokeToolResponse{
		Tool:       name,
		Structured: res.Structured,
		Result:     res.Text,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if res.Structured {
		resp.Result = res.Value
	}
	a.writeJSON(ctx, w, resp)
}

type computeRequest struct {
	Country   string         `json:"country"`
	City      string         `json:"city"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Signals   map[string]any `json:"signals"`
}

type computeResponse struct {
	RiskLevel float64                  `json:"risk_level"`
	Composite types.CompositeRiskScore `json:"composite"`
	DB        *types.RiskRecord        `json:"db"`
}

// HandleComputeRisk is POST /tool/compute_risk. Caller-supplied signals are
// combined with the signals factor set and the result is persisted.
func (a *API) HandleComputeRisk(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	now := a.now()
	subs := make(map[string]types.ScoreResult, len(signalFactors))
	for _, f := range signalFactors {
		raw, ok := req.Signals[f]
		if !ok {
			types.ErrBadRequest("signals must include military, economy, safety, hazard (0-1)").WriteJSON(w)
			return
		}
		v, err := number(raw)
		if err != nil {
			types.ErrBadRequest("signals must include military, economy, safety, hazard (0-1)").WriteJSON(w)
			return
		}
		subs[f] = types.ScoreResult{Score: v, Value: &v, Source: "signal", RetrievedAt: now}
	}
	composite := aggregate.Combine(aggregate.Signals, subs, now)

	in := types.RiskRecordInput{
		Country:   req.Country,
		City:      req.City,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		RiskLevel: composite.RiskLevel,
	}
	a.upsert(w, r, in, func(rec *types.RiskRecord) any {
		return computeResponse{RiskLevel: composite.RiskLevel, Composite: composite, DB: rec}
	})
}
