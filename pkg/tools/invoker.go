package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20 // 8 MB

	instrumentationName = "github.com/bturcanu/georisk/pkg/tools"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// HTTPInvoker executes tools against a base URL. GET responses are cached.
type HTTPInvoker struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	apiKey     string
	log        *slog.Logger
	tracer     trace.Tracer
	hits       metric.Int64Counter
	misses     metric.Int64Counter
}

// NewHTTPInvoker creates an invoker. A nil cache disables caching.
func NewHTTPInvoker(baseURL string, cache Cache, log *slog.Logger) *HTTPInvoker {
	meter := otel.Meter(instrumentationName)
	hits, _ := meter.Int64Counter("georisk.tools.cache_hits")
	misses, _ := meter.Int64Counter("georisk.tools.cache_misses")
	return &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		cache:      cache,
		log:        log,
		tracer:     otel.Tracer(instrumentationName),
		hits:       hits,
		misses:     misses,
	}
}

// SetTimeout overrides the default per-call timeout.
func (inv *HTTPInvoker) SetTimeout(d time.Duration) {
	inv.httpClient.Timeout = d
}

// SetAPIKey makes every call present key as X-API-Key, for upstreams that
// guard their write routes.
func (inv *HTTPInvoker) SetAPIKey(key string) {
	inv.apiKey = key
}

// ExpandPath substitutes {name} placeholders and returns the arguments that
// were not consumed. A missing placeholder argument is an error.
func ExpandPath(tool, template string, args map[string]any) (string, map[string]any, error) {
	rest := make(map[string]any, len(args))
	for k, v := range args {
		rest[k] = v
	}
	var missing string
	path := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		delete(rest, name)
		return url.PathEscape(formatArg(v))
	})
	if missing != "" {
		return "", nil, &types.MissingParameterError{Tool: tool, Param: missing}
	}
	return path, rest, nil
}

// Invoke runs one tool call.
func (inv *HTTPInvoker) Invoke(ctx context.Context, d *types.ToolDescriptor, args map[string]any) (*types.ToolCallResult, error) {
	path, rest, err := ExpandPath(d.Name, d.PathTemplate, args)
	if err != nil {
		return nil, err
	}
	target := inv.baseURL + path

	ctx, span := inv.tracer.Start(ctx, "tools.Invoke", trace.WithAttributes(
		attribute.String("georisk.tool", d.Name),
		attribute.String("http.request.method", string(d.Method)),
	))
	defer span.End()

	var (
		query url.Values
		body  []byte
	)
	switch d.Method.Placement() {
	case types.PlacementQuery:
		query = encodeQuery(rest)
	case types.PlacementBody:
		body, err = json.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("tools.Invoke: marshal body: %w", err)
		}
	}

	var key string
	if d.Method.Cacheable() && inv.cache != nil {
		key, err = cacheKey(target, query)
		if err != nil {
			return nil, fmt.Errorf("tools.Invoke: cache key: %w", err)
		}
		if cached, ok := inv.cache.Get(ctx, key); ok {
			inv.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", d.Name)))
			span.SetAttributes(attribute.Bool("georisk.cache_hit", true))
			return cached, nil
		}
		inv.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", d.Name)))
	}

	res, err := inv.do(ctx, d, target, query, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if key != "" {
		inv.cache.Set(ctx, key, res)
	}
	return res, nil
}

func (inv *HTTPInvoker) do(ctx context.Context, d *types.ToolDescriptor, target string, query url.Values, body []byte) (*types.ToolCallResult, error) {
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, string(d.Method), target, reader)
	if err != nil {
		return nil, fmt.Errorf("tools.Invoke: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if inv.apiKey != "" {
		req.Header.Set("X-API-Key", inv.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := inv.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools.Invoke %s: %w", d.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("tools.Invoke %s: read response: %w", d.Name, err)
	}
	inv.log.DebugContext(ctx, "tool invoked", "tool", d.Name, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode == http.StatusNotFound && d.Method == types.MethodGet {
		nf := types.NewNotFoundResult()
		raw, _ := json.Marshal(nf)
		return &types.ToolCallResult{Structured: true, Value: nf, Raw: raw}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.UpstreamError{
			Tool:       d.Name,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 512),
		}
	}
	return decodeResult(respBody), nil
}

// decodeResult returns a structured result when the body is JSON and raw
// text otherwise.
func decodeResult(body []byte) *types.ToolCallResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return &types.ToolCallResult{Structured: true, Value: v, Raw: append(json.RawMessage(nil), trimmed...)}
		}
	}
	return &types.ToolCallResult{Structured: false, Text: string(body)}
}

func encodeQuery(args map[string]any) url.Values {
	q := make(url.Values, len(args))
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := args[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				q.Add(k, formatArg(item))
			}
		case []string:
			for _, item := range v {
				q.Add(k, item)
			}
		default:
			q.Set(k, formatArg(v))
		}
	}
	return q
}

// formatArg renders a scalar the way a URL expects it: integral floats lose
// their fraction, objects become JSON.
func formatArg(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsNotFound reports whether a result is the normalized not-found shape.
func IsNotFound(r *types.ToolCallResult) bool {
	if r == nil || !r.Structured {
		return false
	}
	switch v := r.Value.(type) {
	case types.NotFoundResult:
		return !v.Found
	case map[string]any:
		found, ok := v["found"].(bool)
		return ok && !found && v["message"] == types.NotFoundMessage
	}
	return false
}

// IsMissingParameter reports whether err is a path-substitution failure.
func IsMissingParameter(err error) bool {
	var mp *types.MissingParameterError
	return errors.As(err, &mp)
}
