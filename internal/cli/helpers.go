package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gkobilansky/abgoat/internal/analysis"
	"github.com/gkobilansky/abgoat/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func (a *app) withStore(fn func(store.Store) error) error {
	s, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

func (a *app) runner(s store.Store) *analysis.Runner {
	return analysis.NewRunner(s, a.cfg, a.logger, a.metrics)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(parts []string) ([]int, error) {
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid count %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// parseCounts reads "conversions/total".
func parseCounts(s string) (conversions, total int, err error) {
	conv, n, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid counts %q, want conversions/total", s)
	}
	counts, err := parseInts([]string{conv, n})
	if err != nil {
		return 0, 0, err
	}
	return counts[0], counts[1], nil
}

// variantIndex resolves a variant given by index or by name.
func variantIndex(exp *store.Experiment, v string) (int, error) {
	if i, err := strconv.Atoi(v); err == nil {
		if i < 0 || i >= len(exp.Variants) {
			return 0, fmt.Errorf("invalid variant index: %d (experiment has %d variants: 0-%d)", i, len(exp.Variants), len(exp.Variants)-1)
		}
		return i, nil
	}
	for i, name := range exp.Variants {
		if name == v {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown variant %q", v)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
