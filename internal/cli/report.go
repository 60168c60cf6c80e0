package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/analysis"
	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		look     int
		maxLooks int
		noSave   bool
	)

	cmd := &cobra.Command{
		Use:   "report <name>",
		Short: "Run every analysis for an experiment",
		Long: `Run the full analysis: z-test, chi-square, Beta-Binomial, SRM, segment
tests and, when observations exist, Welch, Normal-Normal, CUPED and
novelty checks. Reports are saved unless --no-save is given.

Example:
  abg report hero
  abg report hero --look 2 --max-looks 5 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []analysis.Option
			if look > 0 {
				opts = append(opts, analysis.WithLook(look, maxLooks))
			}
			if noSave {
				opts = append(opts, analysis.WithoutPersist())
			}
			return a.withStore(func(s store.Store) error {
				rep, err := a.runner(s).Run(cmd.Context(), args[0], opts...)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&look, "look", 0, "interim look number for a sequential check")
	cmd.Flags().IntVar(&maxLooks, "max-looks", 0, "planned number of looks (default from config)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the report")
	return cmd
}

func printReport(out io.Writer, rep *analysis.Report) {
	fmt.Fprintf(out, "REPORT %s\n", rep.ID)
	fmt.Fprintf(out, "EXPERIMENT: %s (%s vs %s)\n", rep.Experiment, rep.Treatment, rep.Control)
	fmt.Fprintf(out, "GENERATED: %s\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tVIEWS\tCONVERSIONS\tRATE")
	for _, v := range rep.Summary.Variants {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Name, formatNumber(v.Views), formatNumber(v.Conversions), formatPercent(v.ConversionRate))
	}
	w.Flush()
	fmt.Fprintln(out)

	if rep.ZTest != nil {
		printFrequentist(out, rep.ZTest)
	}
	if rep.ChiSquare != nil {
		printFrequentist(out, rep.ChiSquare)
	}
	if rep.Bayesian != nil {
		printBayesian(out, "Beta-Binomial", rep.Bayesian)
	}
	if rep.SRM != nil {
		printSRM(out, rep.SRM)
	}
	if rep.Sequential != nil {
		printSequential(out, rep.Sequential)
	}
	if len(rep.Segments) > 0 {
		fmt.Fprintln(out, "Segments")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  SEGMENT\tLIFT\tP\tCORRECTED P\tSIGNIFICANT")
		for _, s := range rep.Segments {
			fmt.Fprintf(w, "  %s\t%+.2f%%\t%.4f\t%.4f\t%t\n", s.Segment, s.Result.RelativeEffect*100, s.Result.PValue, s.CorrectedPValue, s.SignificantAfterCorrection)
		}
		w.Flush()
		fmt.Fprintln(out)
	}
	if m := rep.Metric; m != nil {
		fmt.Fprintf(out, "Metric (%d observations)\n", m.Observations)
		if m.Welch != nil {
			printFrequentist(out, m.Welch)
		}
		if m.NormalNormal != nil {
			printBayesian(out, "Normal-Normal", m.NormalNormal)
		}
		if m.CUPED != nil {
			fmt.Fprintln(out, "CUPED")
			fmt.Fprintf(out, "  theta %.4f, variance reduction %.1f%%, adjusted effect %.4f\n\n", m.CUPED.Theta, m.CUPED.VarianceReduction*100, m.CUPED.AdjustedEffect)
		}
		if m.Novelty != nil {
			printNovelty(out, m.Novelty)
		}
	}
	for _, warning := range rep.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
}

func printFrequentist(out io.Writer, r *stats.FrequentistResult) {
	fmt.Fprintln(out, r.TestName)
	fmt.Fprintf(out, "  statistic %.4f, p %.4f, significant %t\n", r.Statistic, r.PValue, r.Significant)
	if r.CILower != 0 || r.CIUpper != 0 {
		fmt.Fprintf(out, "  effect %+.4f (%+.2f%%), %.0f%% CI [%.4f, %.4f]\n", r.AbsoluteEffect, r.RelativeEffect*100, r.ConfidenceLevel*100, r.CILower, r.CIUpper)
	}
	fmt.Fprintln(out)
}

func printBayesian(out io.Writer, title string, r *stats.BayesianResult) {
	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "  P(treatment better) %.1f%%, expected lift %+.4f\n", r.ProbTreatmentBetter*100, r.ExpectedLift)
	fmt.Fprintf(out, "  HDI [%.4f, %.4f], expected loss %.5f / %.5f\n", r.HDILower, r.HDIUpper, r.ExpectedLossControl, r.ExpectedLossTreatment)
	fmt.Fprintf(out, "  ROPE %s (in %.1f%%)\n\n", r.ROPEDecision, r.ROPEProbIn*100)
}

func printSRM(out io.Writer, r *stats.SRMResult) {
	fmt.Fprintln(out, "Sample Ratio Mismatch")
	status := "ok"
	if r.IsSRM {
		status = "MISMATCH"
	}
	fmt.Fprintf(out, "  %s: chi-square %.3f, p %.5f (threshold %g)\n", status, r.ChiSquare, r.PValue, r.Threshold)
	fmt.Fprintf(out, "  observed %v, expected %v\n\n", r.ObservedCounts, r.ExpectedCounts)
}

func printSequential(out io.Writer, r *stats.SequentialResult) {
	fmt.Fprintf(out, "Sequential (%s, look %d of %d)\n", r.SpendingFunction, r.CurrentLook, r.MaxLooks)
	bounds := make([]string, len(r.Boundaries))
	for i, b := range r.Boundaries {
		bounds[i] = fmt.Sprintf("%.3f", b)
	}
	fmt.Fprintf(out, "  z %.3f vs boundary %.3f: %s\n", r.ZStatistic, r.BoundaryValue, r.Decision)
	fmt.Fprintf(out, "  alpha spent %.5f, boundaries [%s]\n\n", r.AlphaSpent, strings.Join(bounds, " "))
}

func printNovelty(out io.Writer, r *stats.NoveltyResult) {
	fmt.Fprintf(out, "Novelty (first %d days)\n", r.WindowDays)
	if r.Reason != "" {
		fmt.Fprintf(out, "  %s\n\n", r.Reason)
		return
	}
	fmt.Fprintf(out, "  detected %t\n", r.Detected)
	for name, v := range r.Variants {
		fmt.Fprintf(out, "  %s: early %.4f, late %.4f, p %.4f\n", name, v.EarlyMean, v.LateMean, v.PValue)
	}
	fmt.Fprintln(out)
}

func newHistoryCmd(a *app) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "List saved reports for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				var err error
				if from, err = time.Parse("2006-01-02", since); err != nil {
					return fmt.Errorf("invalid --since %q: want YYYY-MM-DD", since)
				}
			}
			return a.withStore(func(s store.Store) error {
				analyses, err := a.runner(s).History(cmd.Context(), args[0], from)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					type entry struct {
						ID        string    `json:"id"`
						Kind      string    `json:"kind"`
						CreatedAt time.Time `json:"created_at"`
					}
					entries := make([]entry, 0, len(analyses))
					for _, an := range analyses {
						entries = append(entries, entry{ID: an.ID, Kind: an.Kind, CreatedAt: an.CreatedAt})
					}
					return printJSON(out, entries)
				}
				if len(analyses) == 0 {
					fmt.Fprintln(out, "No saved reports.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tCREATED")
				for _, an := range analyses {
					fmt.Fprintf(w, "%s\t%s\t%s\n", an.ID, an.Kind, an.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only reports on or after this date (YYYY-MM-DD)")
	return cmd
}
