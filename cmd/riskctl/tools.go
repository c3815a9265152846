package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newToolsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call gateway tools",
	}
	cmd.AddCommand(newToolsListCmd(opts), newToolsCallCmd(opts))
	return cmd
}

func newToolsListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the gateway serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			descs, err := opts.client().ListTools(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput() {
				return writeJSON(out, descs)
			}
			for _, d := range descs {
				fmt.Fprintf(out, "%-24s %-6s %s\n", d.Name, d.Method, d.PathTemplate)
			}
			return nil
		},
	}
}

func newToolsCallCmd(opts *cliOptions) *cobra.Command {
	var argsJSON string
	var kv []string

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseToolArgs(argsJSON, kv)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			resp, err := opts.client().InvokeTool(ctx, args[0], arguments)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput() {
				return writeJSON(out, resp)
			}
			if s, ok := resp.Result.(string); ok && !resp.Structured {
				fmt.Fprintln(out, s)
				return nil
			}
			return writeJSON(out, resp.Result)
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "arguments as a JSON object")
	cmd.Flags().StringArrayVar(&kv, "arg", nil, "argument as key=value (repeatable, overrides --args)")
	return cmd
}

// parseToolArgs merges a JSON object with key=value pairs. Values are sent as
// strings; the gateway coerces them to the declared kinds.
func parseToolArgs(argsJSON string, kv []string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
		if out == nil {
			out = map[string]any{}
		}
	}
	for _, pair := range kv {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--arg %q: want key=value", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
