package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Invoker executes a descriptor's HTTP request.
type Invoker interface {
	Invoke(ctx context.Context, d *types.ToolDescriptor, args map[string]any) (*types.ToolCallResult, error)
}

// Tool is a synthesized, callable manifest entry.
type Tool struct {
	desc    types.ToolDescriptor
	schema  *jsonschema.Schema
	invoker Invoker
}

func (t *Tool) Name() string { return t.desc.Name }
func (t *Tool) Description() string { return t.desc.Description }
func (t *Tool) Descriptor() types.ToolDescriptor { return t.desc }
func (t *Tool) InputSchema() json.RawMessage { return t.desc.InputSchema }

// Coerce validates arguments against the parameter list and returns the
// converted set. Undeclared arguments are dropped; absent or null optional
// arguments are omitted.
func (t *Tool) Coerce(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(t.desc.Params))
	for _, p := range t.desc.Params {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, &types.ValidationError{Field: "arguments." + p.Name, Reason: "required"}
			}
			continue
		}
		v, err := coerce(p.Kind, raw)
		if err != nil {
			return nil, &types.ValidationError{Field: "arguments." + p.Name, Reason: err.Error()}
		}
		out[p.Name] = v
	}

	if t.schema != nil {
		if err := t.validateSchema(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tool) validateSchema(args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return &types.ValidationError{Field: "arguments", Reason: err.Error()}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return &types.ValidationError{Field: "arguments", Reason: err.Error()}
	}
	if err := t.schema.Validate(inst); err != nil {
		return &types.ValidationError{Field: "arguments", Reason: oneLine(err.Error())}
	}
	return nil
}

// Call coerces the arguments and invokes the tool.
func (t *Tool) Call(ctx context.Context, args map[string]any) (*types.ToolCallResult, error) {
	coerced, err := t.Coerce(args)
	if err != nil {
		return nil, err
	}
	return t.invoker.Invoke(ctx, &t.desc, coerced)
}

// Toolset is the ordered result of synthesis.
type Toolset struct {
	tools  []*Tool
	byName map[string]*Tool
}

// Synthesize builds one Tool per descriptor. It performs no I/O; the only
// failures are configuration errors (duplicate names, invalid schemas).
func Synthesize(manifest []types.ToolDescriptor, inv Invoker) (*Toolset, error) {
	ts := &Toolset{
		tools:  make([]*Tool, 0, len(manifest)),
		byName: make(map[string]*Tool, len(manifest)),
	}
	for _, d := range manifest {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("tools.Synthesize: %w", err)
		}
		if _, dup := ts.byName[d.Name]; dup {
			return nil, fmt.Errorf("tools.Synthesize: %w: %s", types.ErrDuplicateTool, d.Name)
		}
		schema, err := compileSchema(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tools.Synthesize: %s: %w", d.Name, err)
		}
		t := &Tool{desc: cloneDescriptor(d), schema: schema, invoker: inv}
		ts.tools = append(ts.tools, t)
		ts.byName[d.Name] = t
	}
	return ts, nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func cloneDescriptor(d types.ToolDescriptor) types.ToolDescriptor {
	d.Params = append([]types.ParamSpec(nil), d.Params...)
	d.InputSchema = append(json.RawMessage(nil), d.InputSchema...)
	return d
}

func (ts *Toolset) Lookup(name string) (*Tool, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

// List returns tools in manifest order.
func (ts *Toolset) List() []*Tool {
	return append([]*Tool(nil), ts.tools...)
}

func (ts *Toolset) Len() int { return len(ts.tools) }

// Descriptors returns the descriptors in manifest order.
func (ts *Toolset) Descriptors() []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, len(ts.tools))
	for i, t := range ts.tools {
		out[i] = t.Descriptor()
	}
	return out
}

// Call looks up a tool by name and calls it.
func (ts *Toolset) Call(ctx context.Context, name string, args map[string]any) (*types.ToolCallResult, error) {
	t, ok := ts.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownTool, name)
	}
	return t.Call(ctx, args)
}

// ──────────────────────────────────────────────────────────────────────────────
// Kind coercion
// ──────────────────────────────────────────────────────────────────────────────

// maxExactInteger bounds integer arguments to the range a float64 holds exactly.
const maxExactInteger = 1 << 53

func coerce(kind types.ParamKind, v any) (any, error) {
	switch kind {
	case types.KindNumber:
		return toFloat(v)
	case types.KindInteger:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		if math.Abs(f) > maxExactInteger {
			return nil, fmt.Errorf("integer %v out of range", v)
		}
		return int64(f), nil
	case types.KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	case types.KindObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		case float64, float32, int, int32, int64:
			return formatArg(s), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
