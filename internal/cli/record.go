package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/abgoat/internal/store"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		variant   string
		eventType string
		visitorID string
		segment   string
	)

	cmd := &cobra.Command{
		Use:   "record <name>",
		Short: "Record a view or conversion",
		Long: `Record a single server-side event. Events are deduplicated per visitor
and event type.

Example:
  abg record hero --variant 1 --event convert --visitor u-123 --segment mobile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if eventType != store.EventView && eventType != store.EventConvert {
				return fmt.Errorf("invalid event type %q: must be view or convert", eventType)
			}
			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return err
				}
				idx, err := variantIndex(exp, variant)
				if err != nil {
					return err
				}
				if err := s.RecordEvent(ctx, store.Event{
					Experiment: name,
					Variant:    idx,
					EventType:  eventType,
					VisitorID:  visitorID,
					Segment:    segment,
				}); err != nil {
					return err
				}
				a.metrics.RecordEvent(eventType)
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for '%s' variant %d\n", eventType, name, idx)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "variant index or name (required)")
	cmd.Flags().StringVarP(&eventType, "event", "e", store.EventView, "event type: view or convert")
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (required)")
	cmd.Flags().StringVar(&segment, "segment", "", "segment label (optional)")
	_ = cmd.MarkFlagRequired("variant")
	_ = cmd.MarkFlagRequired("visitor")

	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <name> <file.csv>",
		Short: "Import metric observations from CSV",
		Long: `Import continuous metric observations for Welch, Normal-Normal, CUPED and
novelty analysis. The CSV needs a header with the columns variant, date
(YYYY-MM-DD) and value, and optionally covariate. Variants may be given by
index or name. Use - to read standard input.

Example:
  abg import checkout revenue.csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]

			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				defer f.Close()
				in = f
			}

			return a.withStore(func(s store.Store) error {
				ctx := cmd.Context()
				exp, err := s.GetExperiment(ctx, name)
				if err != nil {
					return err
				}

				observations, err := readObservations(in, exp)
				if err != nil {
					return err
				}
				for _, o := range observations {
					if err := s.RecordObservation(ctx, o); err != nil {
						return err
					}
					a.metrics.RecordEvent("observation")
				}

				a.logger.Info().Str("experiment", name).Int("rows", len(observations)).Msg("observations imported")
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d observations into '%s'\n", len(observations), name)
				return nil
			})
		},
	}
}

func readObservations(in io.Reader, exp *store.Experiment) ([]store.Observation, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"variant", "date", "value"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing %q", required)
		}
	}
	covCol, hasCov := cols["covariate"]

	var out []store.Observation
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		idx, err := variantIndex(exp, strings.TrimSpace(record[cols["variant"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[cols["date"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, record[cols["date"]])
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[cols["value"]]), 64)
		if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
			return nil, fmt.Errorf("line %d: invalid value %q", line, record[cols["value"]])
		}

		o := store.Observation{Experiment: exp.Name, Variant: idx, Date: date, Value: value}
		if hasCov {
			if raw := strings.TrimSpace(record[covCol]); raw != "" {
				cov, err := strconv.ParseFloat(raw, 64)
				if err != nil || math.IsInf(cov, 0) || math.IsNaN(cov) {
					return nil, fmt.Errorf("line %d: invalid covariate %q", line, raw)
				}
				o.Covariate = &cov
			}
		}
		out = append(out, o)
	}
	return out, nil
}
