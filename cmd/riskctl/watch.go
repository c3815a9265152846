package main

import (
	"fmt"

	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/sdk/client"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *cliOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:       "watch <scores|map_actions|hotspots>",
		Short:     "Print live events from a topic until interrupted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(broadcast.TopicScores), string(broadcast.TopicMapActions), string(broadcast.TopicHotspots)},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			seen := 0
			return opts.client().Stream(cmd.Context(), broadcast.Topic(args[0]), func(data []byte) error {
				fmt.Fprintln(out, string(data))
				seen++
				if limit > 0 && seen >= limit {
					return client.ErrStopStream
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many events (0 = no limit)")
	return cmd
}
