package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

func newResultsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "results <name>",
		Short: "Show conversion results for an experiment",
		Long:  `Show conversion rates with Wilson intervals and a z-test of the best challenger against control.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return err
				}
				variantStats, err := s.GetVariantStats(ctx, name)
				if err != nil {
					return fmt.Errorf("failed to get stats: %w", err)
				}

				summary, err := stats.Summarize(exp, variantStats, a.cfg.Alpha())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, summary)
				}
				printSummary(cmd, exp, summary, a.cfg.Alpha())
				return nil
			})
		},
	}
}

func printSummary(cmd *cobra.Command, exp *store.Experiment, summary *stats.Summary, alpha float64) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "EXPERIMENT: %s\n", exp.Name)
	fmt.Fprintf(out, "STATE: %s\n", exp.State)
	if exp.Hypothesis != "" {
		fmt.Fprintf(out, "HYPOTHESIS: %s\n", exp.Hypothesis)
	}
	fmt.Fprintf(out, "CREATED: %s\n", exp.CreatedAt.Format("2006-01-02"))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "VARIANT           VIEWS    CONVERSIONS  RATE     %.0f%% CI\n", (1-alpha)*100)
	fmt.Fprintln(out, strings.Repeat("─", 60))

	for _, v := range summary.Variants {
		indicator := ""
		if v.Index == summary.LeadingVariant {
			indicator = " ← LEADING"
		}
		if exp.WinnerVariant != nil && *exp.WinnerVariant == v.Index {
			indicator = " ← WINNER"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Views == 0 {
			ciStr = "N/A"
		}

		name := v.Name
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-11d  %-7s  %s%s\n",
			name,
			v.Views,
			v.Conversions,
			formatPercent(v.ConversionRate),
			ciStr,
			indicator,
		)
	}
	fmt.Fprintln(out)

	c := summary.Comparison
	if c == nil {
		fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
		return
	}
	challenger := summary.Variants[summary.Challenger].Name
	switch {
	case summary.Confident && summary.LeadingVariant == 0:
		fmt.Fprintf(out, "Statistical significance: control beats \"%s\" (p = %.4f)\n", challenger, c.PValue)
	case summary.Confident:
		fmt.Fprintf(out, "Statistical significance: \"%s\" beats control by %+.2f%% (p = %.4f)\n", challenger, c.RelativeEffect*100, c.PValue)
	default:
		fmt.Fprintf(out, "Statistical significance: \"%s\" vs control not yet significant (p = %.4f)\n", challenger, c.PValue)
	}
}
