package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/store"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		variants   string
		weights    string
		hypothesis string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified name and variants.
The first variant is the control.

Examples:
  abg create hero --variants "control,treatment"
  abg create pricing --variants "A,B,C" --weights "50,25,25"
  abg create cta --variants "Sign Up,Try Free" --hypothesis "Try Free lifts signups"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			variantList := splitList(variants)
			if len(variantList) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			var weightList []float64
			if weights != "" {
				var err error
				if weightList, err = parseFloats(splitList(weights)); err != nil {
					return err
				}
				if len(weightList) != len(variantList) {
					return fmt.Errorf("got %d weights for %d variants", len(weightList), len(variantList))
				}
				for _, w := range weightList {
					if w <= 0 {
						return fmt.Errorf("weights must be positive")
					}
				}
			}

			return a.withStore(func(s store.Store) error {
				exp, err := s.CreateExperiment(cmd.Context(), name, variantList, weightList, hypothesis)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment '%s' with %d variants:\n", exp.Name, len(exp.Variants))
				ratios := exp.ExpectedRatios()
				for i, v := range exp.Variants {
					role := ""
					if i == 0 {
						role = " (control)"
					}
					if ratios != nil {
						fmt.Fprintf(out, "  %d: %s%s  %.1f%%\n", i, v, role, ratios[i]*100)
					} else {
						fmt.Fprintf(out, "  %d: %s%s\n", i, v, role)
					}
				}
				if hypothesis != "" {
					fmt.Fprintf(out, "  Hypothesis: %s\n", hypothesis)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant names, control first (required)")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated planned allocation weights (optional)")
	cmd.Flags().StringVar(&hypothesis, "hypothesis", "", "expected change (optional)")
	_ = cmd.MarkFlagRequired("variants")

	return cmd
}
