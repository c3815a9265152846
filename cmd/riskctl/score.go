package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newScoreCmd(opts *cliOptions) *cobra.Command {
	var factorSet string

	cmd := &cobra.Command{
		Use:   "score <country>",
		Short: "Compute the composite risk level for a country",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			score, err := opts.client().OverallScore(ctx, args[0], factorSet)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput() {
				return writeJSON(out, score)
			}

			fmt.Fprintf(out, "%s: %.2f (%s)\n", args[0], score.RiskLevel, score.FactorSet)
			fmt.Fprintf(out, "formula: %s\n", score.Formula)
			names := make([]string, 0, len(score.Components))
			for name := range score.Components {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := score.Components[name]
				fmt.Fprintf(out, "  %-12s %.2f  %s\n", name, c.Score, c.Source)
			}
			for _, e := range score.Errors {
				fmt.Fprintf(out, "  ! %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&factorSet, "factor-set", "", "factor set name (gateway default when empty)")
	return cmd
}
