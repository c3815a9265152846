// Package mcpserver exposes the synthesized tool set over the Model Context
// Protocol so agents can discover and call tools without hard-coded names.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/georisk/pkg/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const implementationName = "georisk"

// New registers every tool in ts on a fresh MCP server.
func New(ts *tools.Toolset, version string, log *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    implementationName,
		Version: version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})
	for _, t := range ts.List() {
		server.AddTool(&mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: objectSchema(t.InputSchema()),
		}, handler(t, log))
	}
	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// objectSchema guarantees the "type":"object" root MCP requires.
func objectSchema(raw json.RawMessage) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	if schema == nil {
		schema = map[string]any{}
	}
	schema["type"] = "object"
	return schema
}

func handler(t *tools.Tool, log *slog.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("arguments must be a JSON object: " + err.Error()), nil
			}
		}

		start := time.Now()
		res, err := t.Call(ctx, args)
		if err != nil {
			log.WarnContext(ctx, "mcp tool call failed", "tool", t.Name(), "error", err, "duration_ms", time.Since(start).Milliseconds())
			return errorResult(err.Error()), nil
		}
		text := res.Text
		if res.Structured {
			b, err := res.JSON()
			if err != nil {
				return errorResult(err.Error()), nil
			}
			text = string(b)
		}
		log.DebugContext(ctx, "mcp tool call", "tool", t.Name(), "duration_ms", time.Since(start).Milliseconds())
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
