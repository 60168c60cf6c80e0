package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/store"
)

type listRow struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Variants    int    `json:"variants"`
	Views       int    `json:"views"`
	Conversions int    `json:"conversions"`
	Created     string `json:"created"`
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all experiments",
		Long:  `List all experiments with their state and totals.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				experiments, err := s.ListExperiments(ctx)
				if err != nil {
					return fmt.Errorf("failed to list experiments: %w", err)
				}

				rows := make([]listRow, 0, len(experiments))
				for _, exp := range experiments {
					variantStats, err := s.GetVariantStats(ctx, exp.Name)
					if err != nil {
						return fmt.Errorf("failed to get stats for experiment %s: %w", exp.Name, err)
					}
					row := listRow{
						Name:     exp.Name,
						State:    string(exp.State),
						Variants: len(exp.Variants),
						Created:  exp.CreatedAt.Format("2006-01-02"),
					}
					for _, vs := range variantStats {
						row.Views += vs.Views
						row.Conversions += vs.Conversions
					}
					rows = append(rows, row)
				}

				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return printJSON(out, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "No experiments yet.")
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Create one with:")
					fmt.Fprintln(out, "  abg create hero --variants \"control,treatment\"")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATE\tVARIANTS\tVIEWS\tCONVERSIONS\tCREATED")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						r.Name,
						strings.ToUpper(r.State),
						r.Variants,
						formatNumber(r.Views),
						formatNumber(r.Conversions),
						r.Created,
					)
				}
				return w.Flush()
			})
		},
	}
}
