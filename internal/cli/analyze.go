package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

func newBayesCmd(a *app) *cobra.Command {
	var (
		control   string
		treatment string
		samples   int
		seed      uint64
		sampler   string
	)

	cmd := &cobra.Command{
		Use:   "bayes [name]",
		Short: "Beta-Binomial analysis of conversion counts",
		Long: `Compare two conversion rates with a Beta-Binomial model. Counts come from
a stored experiment (control vs best challenger) or from --control and
--treatment given as conversions/total.

Examples:
  abg bayes hero
  abg bayes --control 120/1000 --treatment 150/1000 --seed 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sampler != "" {
				if sampler != "conjugate" && sampler != "metropolis" {
					return fmt.Errorf("invalid sampler %q: must be conjugate or metropolis", sampler)
				}
				a.cfg.Bayesian.Sampler = sampler
			}
			opts := a.cfg.BetaBinomialOptions()
			if cmd.Flags().Changed("samples") {
				opts.Samples = samples
			}
			if cmd.Flags().Changed("seed") {
				opts.Seed = seed
			}

			counts, err := a.conversionCounts(cmd, args, control, treatment)
			if err != nil {
				return err
			}
			res, err := stats.BetaBinomial(counts[0], counts[1], counts[2], counts[3], opts)
			if err != nil {
				return err
			}
			res.PosteriorSamples = nil

			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printBayesian(cmd.OutOrStdout(), "Beta-Binomial", res)
			return nil
		},
	}

	cmd.Flags().StringVar(&control, "control", "", "control conversions/total")
	cmd.Flags().StringVar(&treatment, "treatment", "", "treatment conversions/total")
	cmd.Flags().IntVar(&samples, "samples", 0, "posterior draws (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default from config)")
	cmd.Flags().StringVar(&sampler, "sampler", "", "posterior sampler: conjugate or metropolis (default from config)")
	return cmd
}

// conversionCounts returns control conversions, control total, treatment
// conversions and treatment total.
func (a *app) conversionCounts(cmd *cobra.Command, args []string, control, treatment string) ([4]int, error) {
	var counts [4]int
	if len(args) == 1 {
		if control != "" || treatment != "" {
			return counts, fmt.Errorf("give an experiment name or --control/--treatment, not both")
		}
		err := a.withStore(func(s store.Store) error {
			exp, err := s.GetExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			variantStats, err := s.GetVariantStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary, err := stats.Summarize(exp, variantStats, a.cfg.Alpha())
			if err != nil {
				return err
			}
			if len(summary.Variants) < 2 {
				return fmt.Errorf("experiment %q has fewer than 2 variants", args[0])
			}
			c, t := summary.Variants[0], summary.Variants[summary.Challenger]
			counts = [4]int{c.Conversions, c.Views, t.Conversions, t.Views}
			return nil
		})
		return counts, err
	}

	if control == "" || treatment == "" {
		return counts, fmt.Errorf("need an experiment name or both --control and --treatment")
	}
	cc, cn, err := parseCounts(control)
	if err != nil {
		return counts, err
	}
	tc, tn, err := parseCounts(treatment)
	if err != nil {
		return counts, err
	}
	return [4]int{cc, cn, tc, tn}, nil
}

func newSequentialCmd(a *app) *cobra.Command {
	var (
		look     int
		maxLooks int
		z        float64
		spending string
		alpha    float64
	)

	cmd := &cobra.Command{
		Use:   "sequential [name]",
		Short: "Group-sequential interim look",
		Long: `Check an interim look against O'Brien-Fleming or Pocock boundaries. The z
statistic comes from a stored experiment or from --z.

Examples:
  abg sequential hero --look 2
  abg sequential --z 2.4 --look 3 --max-looks 5 --spending pocock-exact`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxLooks == 0 {
				maxLooks = a.cfg.Sequential.MaxLooks
			}
			fn := a.cfg.SpendingFunction()
			if spending != "" {
				fn = stats.SpendingFunction(spending)
				if stats.ParseSpendingFunction(spending) != fn {
					return fmt.Errorf("invalid spending function %q: must be obrien-fleming, pocock or pocock-exact", spending)
				}
			}
			if alpha == 0 {
				alpha = a.cfg.Alpha()
			}

			var res *stats.SequentialResult
			switch {
			case len(args) == 1 && cmd.Flags().Changed("z"):
				return fmt.Errorf("give an experiment name or --z, not both")
			case len(args) == 1:
				if spending != "" || cmd.Flags().Changed("alpha") {
					return fmt.Errorf("--spending and --alpha apply to --z only; stored experiments use the config")
				}
				err := a.withStore(func(s store.Store) error {
					var err error
					res, err = a.runner(s).Sequential(cmd.Context(), args[0], look, maxLooks)
					return err
				})
				if err != nil {
					return err
				}
			case cmd.Flags().Changed("z"):
				var err error
				if res, err = stats.InterimAnalysis(z, look, maxLooks, alpha, fn); err != nil {
					return err
				}
			default:
				return fmt.Errorf("need an experiment name or --z")
			}

			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printSequential(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVar(&look, "look", 1, "current look, 1-based")
	cmd.Flags().IntVar(&maxLooks, "max-looks", 0, "planned number of looks (default from config)")
	cmd.Flags().Float64Var(&z, "z", 0, "observed z statistic")
	cmd.Flags().StringVar(&spending, "spending", "", "spending function for --z (default from config)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "overall significance level for --z (default from config)")
	return cmd
}

func newCorrectCmd(a *app) *cobra.Command {
	var (
		method string
		alpha  float64
	)

	cmd := &cobra.Command{
		Use:   "correct <p-value>...",
		Short: "Adjust p-values for multiple comparisons",
		Long: `Adjust a family of p-values with bonferroni, holm or benjamini-hochberg.

Example:
  abg correct 0.01 0.04 0.03 --method holm`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pValues, err := parseFloats(args)
			if err != nil {
				return err
			}
			if method == "" {
				method = a.cfg.Frequentist.CorrectionMethod
			}
			if alpha == 0 {
				alpha = a.cfg.Alpha()
			}
			records, err := a.runner(nil).Correct(pValues, method, alpha)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return printJSON(out, records)
			}
			fmt.Fprintf(out, "Method: %s, alpha %g\n", method, alpha)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tORIGINAL\tCORRECTED\tSIGNIFICANT")
			for i, r := range records {
				fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%t\n", i+1, r.OriginalP, r.CorrectedP, r.Significant)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", "", "correction method (default from config)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "family-wise significance level (default from config)")
	return cmd
}

func newSRMCmd(a *app) *cobra.Command {
	var (
		observed  string
		ratios    string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "srm [name]",
		Short: "Check for sample ratio mismatch",
		Long: `Run a chi-square goodness-of-fit test of the observed allocation. Counts
come from a stored experiment (planned weights as ratios) or from
--observed with optional --ratios.

Examples:
  abg srm hero
  abg srm --observed 5000,5200 --ratios 0.5,0.5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold == 0 {
				threshold = a.cfg.Diagnostics.SRMThreshold
			}

			var counts []int
			var expected []float64
			switch {
			case len(args) == 1:
				if observed != "" || ratios != "" {
					return fmt.Errorf("give an experiment name or --observed, not both")
				}
				err := a.withStore(func(s store.Store) error {
					exp, err := s.GetExperiment(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					variantStats, err := s.GetVariantStats(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					counts = make([]int, len(exp.Variants))
					for _, vs := range variantStats {
						if vs.Variant >= 0 && vs.Variant < len(counts) {
							counts[vs.Variant] = vs.Views
						}
					}
					expected = a.cfg.ExpectedRatios(exp)
					return nil
				})
				if err != nil {
					return err
				}
			case observed != "":
				var err error
				if counts, err = parseInts(splitList(observed)); err != nil {
					return err
				}
				if ratios != "" {
					if expected, err = parseFloats(splitList(ratios)); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("need an experiment name or --observed")
			}

			res, err := stats.SRMCheck(counts, expected, threshold)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printSRM(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&observed, "observed", "", "comma-separated observed counts")
	cmd.Flags().StringVar(&ratios, "ratios", "", "comma-separated expected ratios (default equal split)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "p-value below which a mismatch is flagged (default from config)")
	return cmd
}
