package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type recordingInvoker struct {
	calls []map[string]any
}

func (r *recordingInvoker) Invoke(_ context.Context, _ *types.ToolDescriptor, args map[string]any) (*types.ToolCallResult, error) {
	r.calls = append(r.calls, args)
	return &types.ToolCallResult{Structured: true, Value: map[string]any{"ok": true}}, nil
}

func mustParse(t *testing.T, doc string) []types.ToolDescriptor {
	t.Helper()
	descs, err := ParseJSON([]byte(doc))
	require.NoError(t, err)
	return descs
}

func TestSynthesize_Idempotent(t *testing.T) {
	manifest := mustParse(t, wrappedManifest)

	a, err := Synthesize(manifest, &recordingInvoker{})
	require.NoError(t, err)
	b, err := Synthesize(manifest, &recordingInvoker{})
	require.NoError(t, err)

	if diff := cmp.Diff(a.Descriptors(), b.Descriptors()); diff != "" {
		t.Errorf("re-synthesis changed descriptors (-first +second):\n%s", diff)
	}

	samples := []map[string]any{
		{"country": "Japan", "limit": 3.0, "extra": "dropped"},
		{"country": "Japan", "limit": "x"},
		{"city": "Tokyo"},
	}
	for _, args := range samples {
		ga, errA := a.tools[0].Coerce(args)
		gb, errB := b.tools[0].Coerce(args)
		if diff := cmp.Diff(ga, gb); diff != "" {
			t.Errorf("validators disagree on %v:\n%s", args, diff)
		}
		require.Equal(t, errA == nil, errB == nil)
	}
}

func TestSynthesize_DuplicateName(t *testing.T) {
	manifest := mustParse(t, `[
		{"name":"dup","request":{"path":"/a"}},
		{"name":"dup","request":{"path":"/b"}}
	]`)
	_, err := Synthesize(manifest, &recordingInvoker{})
	require.True(t, errors.Is(err, types.ErrDuplicateTool), "got %v", err)
}

func TestSynthesize_InvalidSchema(t *testing.T) {
	manifest := []types.ToolDescriptor{{
		Name: "bad", Method: types.MethodGet, PathTemplate: "/x",
		InputSchema: []byte(`{"type":"object","properties":{"a":{"type":"nonsense"}}}`),
	}}
	_, err := Synthesize(manifest, &recordingInvoker{})
	require.ErrorContains(t, err, "compile schema")
}

func TestCoerce(t *testing.T) {
	ts, err := Synthesize(mustParse(t, `[{
		"name":"t",
		"parameters":{"type":"object","properties":{
			"s":{"type":"string"},
			"n":{"type":"number"},
			"i":{"type":"integer"},
			"b":{"type":"boolean"},
			"o":{"type":"object"}
		},"required":["s"]},
		"request":{"method":"POST","path":"/t"}
	}]`), &recordingInvoker{})
	require.NoError(t, err)
	tool, ok := ts.Lookup("t")
	require.True(t, ok)

	got, err := tool.Coerce(map[string]any{
		"s": "x", "n": "1.5", "i": 7.0, "b": "true", "o": map[string]any{"k": 1.0},
		"undeclared": 1, "unused": nil,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"s": "x", "n": 1.5, "i": int64(7), "b": true, "o": map[string]any{"k": 1.0},
	}, got)

	got, err = tool.Coerce(map[string]any{"s": "x", "i": float64(1 << 53)})
	require.NoError(t, err)
	require.Equal(t, int64(1<<53), got["i"])

	got, err = tool.Coerce(map[string]any{"s": "x", "n": nil})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"s": "x"}, got)

	failures := []map[string]any{
		{},
		{"s": nil},
		{"s": "x", "i": 1.5},
		{"s": "x", "i": 1e20},
		{"s": "x", "i": "9.3e18"},
		{"s": "x", "i": -1e20},
		{"s": "x", "b": "perhaps"},
		{"s": "x", "o": "not an object"},
		{"s": map[string]any{}},
	}
	for _, args := range failures {
		_, err := tool.Coerce(args)
		var ve *types.ValidationError
		require.ErrorAs(t, err, &ve, "args %v", args)
	}
}

func TestCoerce_SchemaConstraints(t *testing.T) {
	ts, err := Synthesize(mustParse(t, `[{
		"name":"t",
		"parameters":{"type":"object","properties":{
			"risk_level":{"type":"number","minimum":0,"maximum":100}
		}},
		"request":{"method":"POST","path":"/t"}
	}]`), &recordingInvoker{})
	require.NoError(t, err)
	tool, _ := ts.Lookup("t")

	_, err = tool.Coerce(map[string]any{"risk_level": 101.0})
	require.Error(t, err)
	_, err = tool.Coerce(map[string]any{"risk_level": 55.0})
	require.NoError(t, err)
}

func TestToolsetCall(t *testing.T) {
	inv := &recordingInvoker{}
	ts, err := Synthesize(mustParse(t, wrappedManifest), inv)
	require.NoError(t, err)

	_, err = ts.Call(context.Background(), "get_risk", map[string]any{"country": "Japan", "junk": true})
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"country": "Japan"}}, inv.calls)

	_, err = ts.Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, types.ErrUnknownTool)

	names := make([]string, 0, ts.Len())
	for _, tool := range ts.List() {
		names = append(names, tool.Name())
	}
	require.Equal(t, []string{"get_risk", "delete_risk", "ping"}, names)
}
