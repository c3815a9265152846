// Package client is a typed HTTP client for the georisk gateway.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/tools"
	"github.com/bturcanu/georisk/pkg/types"
)

// ErrStopStream can be returned from a Stream callback to end the stream
// without an error.
var ErrStopStream = errors.New("stop stream")

var streamPaths = map[broadcast.Topic]string{
	broadcast.TopicScores:     "/api/risk/events",
	broadcast.TopicMapActions: "/api/map-actions/events",
	broadcast.TopicHotspots:   "/api/hotspots/events",
}

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Streams are long-lived; cancellation comes from ctx.
		streamClient: &http.Client{},
	}
}

// ListTools fetches the manifest the gateway serves.
func (c *Client) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	return tools.FetchRemote(ctx, c.baseURL, c.httpClient)
}

func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (*types.InvokeToolResponse, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(types.InvokeToolRequest{Arguments: args})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tools/"+url.PathEscape(name)+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	var resp types.InvokeToolResponse
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OverallScore computes the composite for country. An empty factorSet uses
// the gateway default.
func (c *Client) OverallScore(ctx context.Context, country, factorSet string) (*types.CompositeRiskScore, error) {
	q := url.Values{"country": {country}}
	if factorSet != "" {
		q.Set("factor_set", factorSet)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/score/overall?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}
	c.authorize(httpReq)

	var out types.CompositeRiskScore
	if err := c.doJSON(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream reads the topic's server-sent events and calls fn with each data
// payload until ctx is done, the server closes the stream, or fn fails.
func (c *Client) Stream(ctx context.Context, topic broadcast.Topic, fn func(data []byte) error) error {
	path, ok := streamPaths[topic]
	if !ok {
		return fmt.Errorf("client.Stream: unknown topic %q", topic)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	err = readEvents(resp.Body, fn)
	if errors.Is(err, ErrStopStream) || ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses an SSE body. Comment lines (":") are keepalives; multiple
// data lines in one event are joined with newlines.
func readEvents(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			if err := fn([]byte(payload)); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError returns the gateway's *types.APIError when the body carries
// one.
func decodeError(resp *http.Response) error {
	var apiErr types.APIError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err == nil && apiErr.Message != "" {
		apiErr.HTTPCode = resp.StatusCode
		return &apiErr
	}
	return fmt.Errorf("http status %d", resp.StatusCode)
}
