package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format       string
		observations bool
	)

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export raw event or observation data",
		Long: `Export raw events, or metric observations with --observations, in CSV or
JSON format. Observation CSV uses the same columns import reads.

Examples:
  abg export hero --format csv > hero-events.csv
  abg export checkout --observations > revenue.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}

			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if observations {
					obs, err := s.GetObservations(ctx, name)
					if err != nil {
						return fmt.Errorf("failed to get observations: %w", err)
					}
					if format == "csv" {
						return exportObservationsCSV(out, exp, obs)
					}
					return exportObservationsJSON(out, exp, obs)
				}

				events, err := s.GetEvents(ctx, name)
				if err != nil {
					return fmt.Errorf("failed to get events: %w", err)
				}
				if format == "csv" {
					return exportCSV(out, events)
				}
				return exportJSON(out, events)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	cmd.Flags().BoolVar(&observations, "observations", false, "export metric observations instead of events")
	return cmd
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "variant", "event_type", "visitor_id", "segment"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			strconv.Itoa(e.Variant),
			e.EventType,
			e.VisitorID,
			e.Segment,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Events []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp int64  `json:"timestamp"`
	Variant   int    `json:"variant"`
	EventType string `json:"event_type"`
	VisitorID string `json:"visitor_id"`
	Segment   string `json:"segment,omitempty"`
}

func exportJSON(out io.Writer, events []*store.Event) error {
	export := jsonExport{
		Events: make([]jsonEvent, len(events)),
	}
	for i, e := range events {
		export.Events[i] = jsonEvent{
			Timestamp: e.CreatedAt.Unix(),
			Variant:   e.Variant,
			EventType: e.EventType,
			VisitorID: e.VisitorID,
			Segment:   e.Segment,
		}
	}
	return printJSON(out, export)
}

func exportObservationsCSV(out io.Writer, exp *store.Experiment, obs []store.Observation) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"variant", "date", "value", "covariate"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, o := range obs {
		cov := ""
		if o.Covariate != nil {
			cov = strconv.FormatFloat(*o.Covariate, 'g', -1, 64)
		}
		row := []string{
			exp.Variants[o.Variant],
			o.Date.Format("2006-01-02"),
			strconv.FormatFloat(o.Value, 'g', -1, 64),
			cov,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonObservation struct {
	Variant   string   `json:"variant"`
	Date      string   `json:"date"`
	Value     float64  `json:"value"`
	Covariate *float64 `json:"covariate,omitempty"`
}

func exportObservationsJSON(out io.Writer, exp *store.Experiment, obs []store.Observation) error {
	rows := make([]jsonObservation, len(obs))
	for i, o := range obs {
		rows[i] = jsonObservation{
			Variant:   exp.Variants[o.Variant],
			Date:      o.Date.Format("2006-01-02"),
			Value:     o.Value,
			Covariate: o.Covariate,
		}
	}
	return printJSON(out, struct {
		Observations []jsonObservation `json:"observations"`
	}{rows})
}
