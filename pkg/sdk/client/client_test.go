package client

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

	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/types"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tools", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"type":"function","function":{"name":"get_risk_data","description":"Read rows",
			"parameters":{"type":"object","properties":{"country":{"type":"string"}}},
			"request":{"method":"GET","path":"/api/risk"}}}]`))
	})
	mux.HandleFunc("POST /v1/tools/{name}/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k1" {
			types.ErrUnauthorized("missing API key").WriteJSON(w)
			return
		}
		if r.PathValue("name") != "get_risk_data" {
			types.ErrNotFound("unknown tool: " + r.PathValue("name")).WriteJSON(w)
			return
		}
		var req types.InvokeToolRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(types.InvokeToolResponse{Tool: "get_risk_data", Structured: true, Result: req.Arguments})
	})
	mux.HandleFunc("GET /api/score/overall", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.CompositeRiskScore{
			RiskLevel: 33,
			FactorSet: r.URL.Query().Get("factor_set") + "|" + r.URL.Query().Get("country"),
		})
	})
	mux.HandleFunc("GET /api/risk/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, ": keepalive\n\ndata: {\"type\":\"risk_updated\",\"id\":%d}\n\n", i)
		}
	})
	mux.HandleFunc("GET /api/hotspots/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListTools(t *testing.T) {
	c := New(newGateway(t).URL, "")
	descs, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "get_risk_data", descs[0].Name)
}

func TestInvokeTool(t *testing.T) {
	srv := newGateway(t)
	c := New(srv.URL+"/", "k1")

	resp, err := c.InvokeTool(context.Background(), "get_risk_data", map[string]any{"country": "Japan"})
	require.NoError(t, err)
	require.True(t, resp.Structured)
	require.Equal(t, map[string]any{"country": "Japan"}, resp.Result)

	_, err = c.InvokeTool(context.Background(), "nope", nil)
	var apiErr *types.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.HTTPCode)
	require.Equal(t, "NOT_FOUND", apiErr.Code)

	_, err = New(srv.URL, "").InvokeTool(context.Background(), "get_risk_data", nil)
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.HTTPCode)
}

func TestOverallScore(t *testing.T) {
	c := New(newGateway(t).URL, "")
	out, err := c.OverallScore(context.Background(), "South Korea", "hazard_market")
	require.NoError(t, err)
	require.Equal(t, 33.0, out.RiskLevel)
	require.Equal(t, "hazard_market|South Korea", out.FactorSet)
}

func TestStreamSkipsComments(t *testing.T) {
	c := New(newGateway(t).URL, "")
	var got []string
	err := c.Stream(context.Background(), broadcast.TopicScores, func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		`{"type":"risk_updated","id":1}`,
		`{"type":"risk_updated","id":2}`,
		`{"type":"risk_updated","id":3}`,
	}, got)
}

func TestStreamStopAndErrors(t *testing.T) {
	c := New(newGateway(t).URL, "")

	n := 0
	err := c.Stream(context.Background(), broadcast.TopicScores, func([]byte) error {
		n++
		return ErrStopStream
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	boom := errors.New("boom")
	err = c.Stream(context.Background(), broadcast.TopicScores, func([]byte) error { return boom })
	require.ErrorIs(t, err, boom)

	err = c.Stream(context.Background(), broadcast.Topic("weather"), func([]byte) error { return nil })
	require.ErrorContains(t, err, "unknown topic")
}

func TestStreamEndsOnCancel(t *testing.T) {
	c := New(newGateway(t).URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Stream(ctx, broadcast.TopicHotspots, func([]byte) error { return nil }))
}

func TestReadEventsJoinsMultilineData(t *testing.T) {
	var got []string
	err := readEvents(strings.NewReader("data: a\ndata: b\n\n\n: ping\n\nevent: x\ndata:c\n\n"), func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a\nb", "c"}, got)
}
