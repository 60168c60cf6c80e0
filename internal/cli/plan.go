package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/analysis"
	"github.com/gkobilansky/abgoat/internal/stats"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		req         analysis.PlanRequest
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the sample size for an experiment",
		Long: `Compute the required sample size per variant. Conversion plans take
--baseline as a rate and --mde as an absolute change in that rate. Metric
plans add --baseline-std and take --mde as an absolute difference in means.

Examples:
  abg plan --baseline 0.10 --mde 0.02 --daily-traffic 5000
  abg plan --baseline 100 --baseline-std 20 --mde 5
  abg plan --interactive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				if err := promptPlan(&req); err != nil {
					if errors.Is(err, promptui.ErrInterrupt) {
						os.Exit(0)
					}
					return err
				}
			} else if !cmd.Flags().Changed("baseline") {
				return fmt.Errorf("--baseline is required (or use --interactive)")
			}

			r := analysis.NewRunner(nil, a.cfg, a.logger, a.metrics)
			plan, err := r.Plan(req)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(cmd.OutOrStdout(), plan, req.BaselineStd > 0)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&req.Baseline, "baseline", 0, "baseline conversion rate, or metric mean with --baseline-std")
	f.Float64Var(&req.BaselineStd, "baseline-std", 0, "baseline metric standard deviation")
	f.Float64Var(&req.MDE, "mde", 0, "minimum detectable absolute effect (default from config)")
	f.Float64Var(&req.Alpha, "alpha", 0, "significance level (default from config)")
	f.Float64Var(&req.Power, "power", 0, "statistical power (default from config)")
	f.IntVar(&req.DailyTraffic, "daily-traffic", 0, "daily visitors, for a duration estimate")
	f.Float64Var(&req.Allocation, "allocation", 0, "share of traffic in the experiment (default 1)")
	f.Float64Var(&req.VarianceReduction, "variance-reduction", 0, "expected CUPED variance reduction in [0, 1)")
	f.BoolVarP(&interactive, "interactive", "i", false, "prompt for each input")
	return cmd
}

func printPlan(out io.Writer, plan *stats.PowerResult, metric bool) {
	if metric {
		fmt.Fprintf(out, "Baseline mean %g, detectable difference %g\n", plan.BaselineRate, plan.MDE)
	} else {
		fmt.Fprintf(out, "Baseline rate %s, detectable change %+.2f pp\n", formatPercent(plan.BaselineRate), plan.MDE*100)
	}
	fmt.Fprintf(out, "Alpha %g, power %g\n\n", plan.Alpha, plan.Power)
	fmt.Fprintf(out, "Per variant: %s\n", formatNumber(plan.RequiredSamplePerVariant))
	fmt.Fprintf(out, "Total:       %s\n", formatNumber(plan.RequiredSampleSize))
	if plan.CUPEDAdjustedSize != nil && plan.VarianceReduction != nil {
		fmt.Fprintf(out, "With CUPED:  %s per variant (%.0f%% variance reduction)\n", formatNumber(*plan.CUPEDAdjustedSize), *plan.VarianceReduction*100)
	}
	if plan.EstimatedDays != nil {
		fmt.Fprintf(out, "Duration:    %.1f days\n", *plan.EstimatedDays)
	}
}

func promptPlan(req *analysis.PlanRequest) error {
	kind := promptui.Select{
		Label: "Primary metric",
		Items: []string{"Conversion rate", "Continuous metric (mean)"},
	}
	idx, _, err := kind.Run()
	if err != nil {
		return err
	}

	if idx == 0 {
		if req.Baseline, err = promptFloat("Baseline conversion rate (e.g. 0.10)", req.Baseline, rateInRange); err != nil {
			return err
		}
		if req.MDE, err = promptFloat("Minimum detectable absolute change (e.g. 0.02)", req.MDE, nonZero); err != nil {
			return err
		}
	} else {
		if req.Baseline, err = promptFloat("Baseline mean", req.Baseline, anyFloat); err != nil {
			return err
		}
		if req.BaselineStd, err = promptFloat("Baseline standard deviation", req.BaselineStd, positive); err != nil {
			return err
		}
		if req.MDE, err = promptFloat("Minimum detectable difference in means", req.MDE, nonZero); err != nil {
			return err
		}
	}

	if req.Alpha, err = promptFloat("Significance level", orDefault(req.Alpha, 0.05), rateInRange); err != nil {
		return err
	}
	if req.Power, err = promptFloat("Power", orDefault(req.Power, 0.8), rateInRange); err != nil {
		return err
	}
	traffic, err := promptFloat("Daily traffic (0 to skip)", float64(req.DailyTraffic), nonNegative)
	if err != nil {
		return err
	}
	req.DailyTraffic = int(traffic)
	if req.VarianceReduction, err = promptFloat("Expected CUPED variance reduction (0 to skip)", req.VarianceReduction, fraction); err != nil {
		return err
	}
	return nil
}

func promptFloat(label string, def float64, check func(float64) error) (float64, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return errors.New("enter a number")
			}
			return check(v)
		},
	}
	if def != 0 {
		prompt.Default = strconv.FormatFloat(def, 'g', -1, 64)
	}
	s, err := prompt.Run()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func anyFloat(float64) error { return nil }

func rateInRange(v float64) error {
	if v <= 0 || v >= 1 {
		return errors.New("must be between 0 and 1")
	}
	return nil
}

func nonZero(v float64) error {
	if v == 0 {
		return errors.New("must not be zero")
	}
	return nil
}

func positive(v float64) error {
	if v <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func nonNegative(v float64) error {
	if v < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func fraction(v float64) error {
	if v < 0 || v >= 1 {
		return errors.New("must be in [0, 1)")
	}
	return nil
}
