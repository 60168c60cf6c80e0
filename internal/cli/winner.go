package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/store"
)

func newWinnerCmd(a *app) *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "winner <name>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant, by index or name, and complete the experiment.
Completed experiments stop accepting beacons.

Example:
  abg winner hero --variant 1
  abg winner hero --variant treatment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return err
				}
				if exp.State == store.StateCompleted {
					return fmt.Errorf("experiment is already completed")
				}

				idx, err := variantIndex(exp, variant)
				if err != nil {
					return err
				}
				if err := s.SetWinner(ctx, name, idx); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				a.logger.Info().Str("experiment", name).Int("variant", idx).Msg("winner declared")
				fmt.Fprintf(cmd.OutOrStdout(), "Declared winner for experiment '%s': variant %d (\"%s\")\n", name, idx, exp.Variants[idx])
				fmt.Fprintln(cmd.OutOrStdout(), "Experiment has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "winning variant index or name (required)")
	_ = cmd.MarkFlagRequired("variant")

	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <name> <running|paused|completed>",
		Short: "Pause, resume or complete an experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, state := args[0], store.ExperimentState(args[1])
			if !store.ValidState(state) {
				return fmt.Errorf("invalid state %q: must be running, paused or completed", state)
			}
			return a.withStore(func(s store.Store) error {
				if err := s.UpdateExperimentState(cmd.Context(), name, state, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment '%s' is now %s\n", name, state)
				return nil
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an experiment and all of its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Delete '%s' with all events, observations and reports", name),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
					return err
				}
			}
			return a.withStore(func(s store.Store) error {
				if err := s.DeleteExperiment(cmd.Context(), name); err != nil {
					return err
				}
				a.logger.Info().Str("experiment", name).Msg("experiment deleted")
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment '%s'\n", name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
