package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
	"github.com/gkobilansky/abgoat/internal/testutil"
)

// runCLI executes the root command against dbPath and returns stdout.
func runCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", dbPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return filepath.Join(dir, "abg.db")
}

func seed(t *testing.T, dbPath string, fn func(s store.Store)) {
	t.Helper()
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	fn(s)
}

func TestCreateAndList(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "create", "hero", "--variants", "control, treatment", "--weights", "1,3", "--hypothesis", "treatment lifts")
	require.NoError(t, err)
	assert.Contains(t, out, "Created experiment 'hero' with 2 variants")
	assert.Contains(t, out, "0: control (control)  25.0%")
	assert.Contains(t, out, "1: treatment  75.0%")

	_, err = runCLI(t, db, "create", "hero", "--variants", "a,b")
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = runCLI(t, db, "create", "solo", "--variants", "a")
	assert.Error(t, err)

	_, err = runCLI(t, db, "create", "bad", "--variants", "a,b", "--weights", "1")
	assert.Error(t, err)

	out, err = runCLI(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "hero")
	assert.Contains(t, out, "RUNNING")

	out, err = runCLI(t, db, "--json", "list")
	require.NoError(t, err)
	var rows []listRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Variants)
}

func TestList_Empty(t *testing.T) {
	db := tempDB(t)
	out, err := runCLI(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No experiments yet.")
}

func TestRecordAndResults(t *testing.T) {
	db := tempDB(t)
	_, err := runCLI(t, db, "create", "hero", "--variants", "control,treatment")
	require.NoError(t, err)

	_, err = runCLI(t, db, "record", "hero", "--variant", "treatment", "--visitor", "u1")
	require.NoError(t, err)
	_, err = runCLI(t, db, "record", "hero", "--variant", "1", "--event", "convert", "--visitor", "u1", "--segment", "mobile")
	require.NoError(t, err)
	_, err = runCLI(t, db, "record", "hero", "--variant", "0", "--visitor", "u2")
	require.NoError(t, err)

	_, err = runCLI(t, db, "record", "hero", "--variant", "7", "--visitor", "u3")
	assert.Error(t, err)
	_, err = runCLI(t, db, "record", "hero", "--variant", "0", "--event", "click", "--visitor", "u3")
	assert.Error(t, err)

	out, err := runCLI(t, db, "results", "hero")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPERIMENT: hero")
	assert.Contains(t, out, "← LEADING")
	assert.Contains(t, out, "not yet significant")

	out, err = runCLI(t, db, "--json", "results", "hero")
	require.NoError(t, err)
	var summary stats.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.Variants[1].Conversions)
	assert.Equal(t, 1, summary.LeadingVariant)

	_, err = runCLI(t, db, "results", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWinnerStateDelete(t *testing.T) {
	db := tempDB(t)
	_, err := runCLI(t, db, "create", "hero", "--variants", "a,b")
	require.NoError(t, err)

	out, err := runCLI(t, db, "state", "hero", "paused")
	require.NoError(t, err)
	assert.Contains(t, out, "now paused")
	_, err = runCLI(t, db, "state", "hero", "archived")
	assert.Error(t, err)

	out, err = runCLI(t, db, "winner", "hero", "--variant", "b")
	require.NoError(t, err)
	assert.Contains(t, out, `variant 1 ("b")`)

	_, err = runCLI(t, db, "winner", "hero", "--variant", "0")
	assert.Error(t, err)

	seed(t, db, func(s store.Store) {
		exp, err := s.GetExperiment(context.Background(), "hero")
		require.NoError(t, err)
		assert.Equal(t, store.StateCompleted, exp.State)
		require.NotNil(t, exp.WinnerVariant)
		assert.Equal(t, 1, *exp.WinnerVariant)
	})

	out, err = runCLI(t, db, "delete", "hero", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted experiment 'hero'")
	_, err = runCLI(t, db, "delete", "hero", "--yes")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportAndExportObservations(t *testing.T) {
	db := tempDB(t)
	_, err := runCLI(t, db, "create", "rev", "--variants", "control,treatment")
	require.NoError(t, err)

	csvPath := filepath.Join(filepath.Dir(db), "obs.csv")
	body := "variant,date,value,covariate\n" +
		"control,2024-03-01,10.5,9\n" +
		"1,2024-03-01,12,\n" +
		"treatment,2024-03-02,13.25,11\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(body), 0o644))

	out, err := runCLI(t, db, "import", "rev", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 observations")

	seed(t, db, func(s store.Store) {
		obs, err := s.GetObservations(context.Background(), "rev")
		require.NoError(t, err)
		require.Len(t, obs, 3)
		assert.Equal(t, 0, obs[0].Variant)
		require.NotNil(t, obs[0].Covariate)
		assert.Equal(t, 9.0, *obs[0].Covariate)
		assert.Nil(t, obs[1].Covariate)
	})

	out, err = runCLI(t, db, "export", "rev", "--observations")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "variant,date,value,covariate", lines[0])
	assert.Equal(t, "control,2024-03-01,10.5,9", lines[1])
	assert.Equal(t, "treatment,2024-03-01,12,", lines[2])
}

func TestImport_BadRows(t *testing.T) {
	db := tempDB(t)
	_, err := runCLI(t, db, "create", "rev", "--variants", "a,b")
	require.NoError(t, err)

	tests := map[string]string{
		"missing column": "variant,value\na,1\n",
		"bad date":       "variant,date,value\na,03/01/2024,1\n",
		"bad value":      "variant,date,value\na,2024-03-01,lots\n",
		"bad variant":    "variant,date,value\nc,2024-03-01,1\n",
		"infinite value": "variant,date,value\na,2024-03-01,+Inf\n",
		"nan value":      "variant,date,value\na,2024-03-01,NaN\n",
		"nan covariate":  "variant,date,value,covariate\na,2024-03-01,1,nan\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "obs.csv")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := runCLI(t, db, "import", "rev", path)
			assert.Error(t, err)
		})
	}
}

func TestExportEvents(t *testing.T) {
	db := tempDB(t)
	seed(t, db, func(s store.Store) {
		testutil.SeedConversions(t, s, "hero", [2]int{2, 1}, [2]int{1, 0})
	})

	out, err := runCLI(t, db, "export", "hero")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "timestamp,variant,event_type,visitor_id,segment", lines[0])
	assert.Len(t, lines, 5)

	out, err = runCLI(t, db, "export", "hero", "--format", "json")
	require.NoError(t, err)
	var export jsonExport
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	assert.Len(t, export.Events, 4)

	_, err = runCLI(t, db, "export", "hero", "--format", "xml")
	assert.Error(t, err)
}

func TestReportAndHistory(t *testing.T) {
	db := tempDB(t)
	seed(t, db, func(s store.Store) {
		testutil.SeedConversions(t, s, "hero", [2]int{300, 300}, [2]int{30, 60})
	})

	out, err := runCLI(t, db, "report", "hero", "--look", "2", "--max-looks", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Two-Proportion Z-Test")
	assert.Contains(t, out, "Beta-Binomial")
	assert.Contains(t, out, "Sample Ratio Mismatch")
	assert.Contains(t, out, "look 2 of 4")

	out, err = runCLI(t, db, "--json", "history", "hero")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "report", entries[0]["kind"])

	_, err = runCLI(t, db, "report", "hero", "--no-save")
	require.NoError(t, err)
	out, err = runCLI(t, db, "history", "hero")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestBayes(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "--json", "bayes", "--control", "100/1000", "--treatment", "150/1000", "--samples", "5000")
	require.NoError(t, err)
	var res stats.BayesianResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Greater(t, res.ProbTreatmentBetter, 0.99)
	assert.Empty(t, res.PosteriorSamples)

	again, err := runCLI(t, db, "--json", "bayes", "--control", "100/1000", "--treatment", "150/1000", "--samples", "5000")
	require.NoError(t, err)
	assert.Equal(t, out, again)

	_, err = runCLI(t, db, "bayes", "--control", "100")
	assert.Error(t, err)
	_, err = runCLI(t, db, "bayes", "--control", "1/10", "--treatment", "2/10", "--sampler", "gibbs")
	assert.Error(t, err)

	seed(t, db, func(s store.Store) {
		testutil.SeedConversions(t, s, "hero", [2]int{100, 100}, [2]int{10, 20})
	})
	out, err = runCLI(t, db, "bayes", "hero", "--samples", "2000")
	require.NoError(t, err)
	assert.Contains(t, out, "P(treatment better)")
}

func TestSequentialCmd(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "--json", "sequential", "--z", "2.5", "--look", "5", "--max-looks", "5", "--spending", "pocock-exact")
	require.NoError(t, err)
	var res stats.SequentialResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, stats.PocockExact, res.SpendingFunction)
	assert.Equal(t, stats.DecisionStopReject, res.Decision)
	assert.InDelta(t, 2.413, res.BoundaryValue, 0.01)

	_, err = runCLI(t, db, "sequential", "--z", "2.5", "--spending", "haybittle")
	assert.Error(t, err)
	_, err = runCLI(t, db, "sequential")
	assert.Error(t, err)

	seed(t, db, func(s store.Store) {
		testutil.SeedConversions(t, s, "hero", [2]int{500, 500}, [2]int{50, 55})
	})
	out, err = runCLI(t, db, "sequential", "hero", "--look", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "obrien-fleming, look 1 of 5")
	assert.Contains(t, out, "continue")
}

func TestCorrectCmd(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "--json", "correct", "0.01", "0.04", "0.03", "--method", "bonferroni")
	require.NoError(t, err)
	var records []stats.CorrectionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 3)
	assert.InDelta(t, 0.12, records[1].CorrectedP, 1e-12)

	out, err = runCLI(t, db, "correct", "0.01", "0.02")
	require.NoError(t, err)
	assert.Contains(t, out, "Method: benjamini-hochberg")

	_, err = runCLI(t, db, "correct", "0.01", "--method", "sidak")
	assert.ErrorIs(t, err, stats.ErrUnknownMethod)
	_, err = runCLI(t, db, "correct", "abc")
	assert.Error(t, err)
}

func TestCorrectCmd_RecordsAnalysisMetric(t *testing.T) {
	db := tempDB(t)

	a := &app{}
	cmd := a.rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--log-level", "error", "correct", "0.01", "0.04"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	expected := `
# HELP abgoat_analyses_total Analyses run, by kind and outcome
# TYPE abgoat_analyses_total counter
abgoat_analyses_total{kind="correction",outcome="ok"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(a.metrics.Registry(),
		strings.NewReader(expected), "abgoat_analyses_total"))
}

func TestSRMCmd(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "--json", "srm", "--observed", "5000,5600")
	require.NoError(t, err)
	var res stats.SRMResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.IsSRM)

	out, err = runCLI(t, db, "srm", "--observed", "2500,7500", "--ratios", "0.25,0.75")
	require.NoError(t, err)
	assert.Contains(t, out, "ok:")

	seed(t, db, func(s store.Store) {
		testutil.SeedConversions(t, s, "hero", [2]int{50, 52}, [2]int{0, 0})
	})
	out, err = runCLI(t, db, "srm", "hero")
	require.NoError(t, err)
	assert.Contains(t, out, "observed [50 52]")
}

func TestPlanCmd(t *testing.T) {
	db := tempDB(t)

	out, err := runCLI(t, db, "--json", "plan", "--baseline", "0.1", "--mde", "0.02", "--daily-traffic", "1000")
	require.NoError(t, err)
	var plan stats.PowerResult
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.InDelta(t, 3623, plan.RequiredSamplePerVariant, 2)
	require.NotNil(t, plan.EstimatedDays)

	out, err = runCLI(t, db, "plan", "--baseline", "100", "--baseline-std", "20", "--mde", "5", "--variance-reduction", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Per variant: 252")
	assert.Contains(t, out, "With CUPED:")

	_, err = runCLI(t, db, "plan")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	db := tempDB(t)

	_, err := runCLI(t, db, "token")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(db), tokenFileName), []byte("abc123\n"), 0o600))
	out, err := runCLI(t, db, "token")
	require.NoError(t, err)
	assert.Contains(t, out, "API token: abc123")
	assert.Contains(t, out, "Bearer abc123")
}

func TestConfigFlag(t *testing.T) {
	db := tempDB(t)
	cfgPath := filepath.Join(filepath.Dir(db), "abg.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("frequentist:\n  correction_method: holm\n"), 0o644))

	out, err := runCLI(t, db, "--config", cfgPath, "correct", "0.01", "0.02")
	require.NoError(t, err)
	assert.Contains(t, out, "Method: holm")

	_, err = runCLI(t, db, "--log-level", "loud", "list")
	assert.Error(t, err)
}
