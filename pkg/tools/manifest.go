// Package tools turns a declarative tool manifest into validated, invocable
// tools backed by HTTP endpoints.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"gopkg.in/yaml.v3"
)

const maxManifestBytes = 4 << 20 // 4 MB

// LoadFile reads a JSON or YAML manifest, chosen by extension.
// A missing file yields an empty manifest.
func LoadFile(path string) ([]types.ToolDescriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.ToolDescriptor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tools.LoadFile: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// FetchRemote loads the manifest a gateway serves at GET {baseURL}/api/tools.
func FetchRemote(ctx context.Context, baseURL string, c *http.Client) ([]types.ToolDescriptor, error) {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("tools.FetchRemote: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools.FetchRemote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tools.FetchRemote: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("tools.FetchRemote: %w", err)
	}
	return ParseJSON(data)
}

// ──────────────────────────────────────────────────────────────────────────────
// JSON
// ──────────────────────────────────────────────────────────────────────────────

type functionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Request     struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	} `json:"request"`
}

type wrappedEntry struct {
	Type     string       `json:"type"`
	Function *functionDef `json:"function"`
}

// ParseJSON accepts a top-level array of entries or {"tools": [...]}.
// Entries are flat or wrapped as {"type":"function","function":{...}}.
func ParseJSON(data []byte) ([]types.ToolDescriptor, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []types.ToolDescriptor{}, nil
	}

	var entries []json.RawMessage
	if data[0] == '{' {
		var doc struct {
			Tools []json.RawMessage `json:"tools"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("tools.ParseJSON: %w", err)
		}
		entries = doc.Tools
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("tools.ParseJSON: %w", err)
	}

	out := make([]types.ToolDescriptor, 0, len(entries))
	for i, raw := range entries {
		d, err := parseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("tools.ParseJSON: entry %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseEntry(raw json.RawMessage) (types.ToolDescriptor, error) {
	var w wrappedEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.ToolDescriptor{}, err
	}
	fn := w.Function
	if fn == nil {
		fn = &functionDef{}
		if err := json.Unmarshal(raw, fn); err != nil {
			return types.ToolDescriptor{}, err
		}
	}

	method, err := types.ParseMethod(fn.Request.Method)
	if err != nil {
		return types.ToolDescriptor{}, err
	}
	path := fn.Request.Path
	if path == "" {
		path = "/"
	}

	schema := fn.Parameters
	if len(bytes.TrimSpace(schema)) == 0 || string(bytes.TrimSpace(schema)) == "null" {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	params, err := parseParams(schema)
	if err != nil {
		return types.ToolDescriptor{}, err
	}

	d := types.ToolDescriptor{
		Name:         fn.Name,
		Description:  fn.Description,
		Params:       params,
		Method:       method,
		PathTemplate: path,
		InputSchema:  compact(schema),
	}
	if err := d.Validate(); err != nil {
		return types.ToolDescriptor{}, err
	}
	return d, nil
}

// parseParams walks "properties" in document order.
func parseParams(schema json.RawMessage) ([]types.ParamSpec, error) {
	var s struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, &types.ValidationError{Field: "parameters", Reason: err.Error()}
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	keys, values, err := orderedObject(s.Properties)
	if err != nil {
		return nil, &types.ValidationError{Field: "parameters.properties", Reason: err.Error()}
	}
	params := make([]types.ParamSpec, 0, len(keys))
	for _, k := range keys {
		var prop struct {
			Type any `json:"type"`
		}
		_ = json.Unmarshal(values[k], &prop)
		kind := types.KindString
		if t, ok := prop.Type.(string); ok {
			kind = types.ParseKind(t)
		}
		params = append(params, types.ParamSpec{Name: k, Kind: kind, Required: required[k]})
	}
	return params, nil
}

// orderedObject returns an object's keys in document order.
func orderedObject(raw json.RawMessage) ([]string, map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if tok != json.Delim('{') {
		return nil, nil, errors.New("expected an object")
	}
	var keys []string
	values := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = v
	}
	return keys, values, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// ──────────────────────────────────────────────────────────────────────────────
// YAML
// ──────────────────────────────────────────────────────────────────────────────

// ParseYAML converts the document to JSON with mapping order preserved and
// parses it like a JSON manifest.
func ParseYAML(data []byte) ([]types.ToolDescriptor, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("tools.ParseYAML: %w", err)
	}
	if root.Kind == 0 {
		return []types.ToolDescriptor{}, nil
	}
	var buf bytes.Buffer
	if err := writeNodeJSON(&buf, &root); err != nil {
		return nil, fmt.Errorf("tools.ParseYAML: %w", err)
	}
	return ParseJSON(buf.Bytes())
}

func writeNodeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNodeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNodeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(b)
		return nil
	default:
		return fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Rendering
// ──────────────────────────────────────────────────────────────────────────────

type renderedRequest struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type renderedFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Request     renderedRequest `json:"request"`
}

type renderedEntry struct {
	Type     string           `json:"type"`
	Function renderedFunction `json:"function"`
}

// Render writes descriptors back out in the wrapped manifest form.
func Render(descs []types.ToolDescriptor) ([]byte, error) {
	out := make([]renderedEntry, len(descs))
	for i, d := range descs {
		out[i] = renderedEntry{
			Type: "function",
			Function: renderedFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
				Request:     renderedRequest{Method: string(d.Method), Path: d.PathTemplate},
			},
		}
	}
	return json.Marshal(out)
}
