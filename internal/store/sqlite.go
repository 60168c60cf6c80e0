package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    variants TEXT NOT NULL,
    weights TEXT,
    hypothesis TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'running',
    winner_variant INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment TEXT NOT NULL,
    variant INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    segment TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment) REFERENCES experiments(name)
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(experiment, visitor_id, event_type);

CREATE TABLE IF NOT EXISTS observations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment TEXT NOT NULL,
    variant INTEGER NOT NULL,
    observed_on TEXT NOT NULL,
    value REAL NOT NULL,
    covariate REAL,
    FOREIGN KEY (experiment) REFERENCES experiments(name)
);

CREATE INDEX IF NOT EXISTS idx_observations_experiment ON observations(experiment, observed_on);

CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    experiment TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_analyses_experiment ON analyses(experiment, created_at);
`

const dateLayout = "2006-01-02"

func Open(dbPath string) (*SQLiteStore, error) {
	// busy_timeout applies per connection, so it rides on the DSN
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, name string, variants []string, weights []float64, hypothesis string) (*Experiment, error) {
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	var weightsJSON []byte
	if len(weights) > 0 {
		weightsJSON, err = json.Marshal(weights)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal weights: %w", err)
		}
	}

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (name, variants, weights, hypothesis, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'running', ?, ?)`,
		name, string(variantsJSON), nullableString(weightsJSON), hypothesis, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("experiment %q: %w", name, ErrExists)
		}
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &Experiment{
		ID:         id,
		Name:       name,
		Variants:   variants,
		Weights:    weights,
		Hypothesis: hypothesis,
		State:      StateRunning,
		CreatedAt:  time.Unix(now, 0),
		UpdatedAt:  time.Unix(now, 0),
	}, nil
}

const experimentColumns = `id, name, variants, weights, hypothesis, state, winner_variant, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var variantsJSON string
	var weightsJSON sql.NullString
	var winnerVariant sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&exp.ID, &exp.Name, &variantsJSON, &weightsJSON, &exp.Hypothesis, &exp.State, &winnerVariant, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if weightsJSON.Valid && weightsJSON.String != "" {
		if err := json.Unmarshal([]byte(weightsJSON.String), &exp.Weights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
		}
	}
	if winnerVariant.Valid {
		w := int(winnerVariant.Int64)
		exp.WinnerVariant = &w
	}

	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)
	return &exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	exp, err := scanExperiment(s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE name = ?`, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

func (s *SQLiteStore) UpdateExperimentState(ctx context.Context, name string, state ExperimentState, winnerVariant *int) error {
	if !ValidState(state) {
		return fmt.Errorf("invalid state %q", state)
	}
	now := time.Now().Unix()

	var result sql.Result
	var err error
	if winnerVariant != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET state = ?, winner_variant = ?, updated_at = ? WHERE name = ?`,
			string(state), *winnerVariant, now, name,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET state = ?, updated_at = ? WHERE name = ?`,
			string(state), now, name,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update experiment state: %w", err)
	}
	return expectAffected(result, name)
}

// SetWinner marks variant as the winner and completes the experiment.
func (s *SQLiteStore) SetWinner(ctx context.Context, name string, variant int) error {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return err
	}
	if variant < 0 || variant >= len(exp.Variants) {
		return fmt.Errorf("variant %d out of range for %q (%d variants)", variant, name, len(exp.Variants))
	}
	return s.UpdateExperimentState(ctx, name, StateCompleted, &variant)
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "observations", "analyses"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE experiment = ?`, name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM experiments WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	if err := expectAffected(result, name); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordEvent stores a view or conversion. Repeats of the same visitor and
// event type are ignored.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e Event) error {
	if e.EventType != EventView && e.EventType != EventConvert {
		return fmt.Errorf("invalid event type %q", e.EventType)
	}
	exp, err := s.GetExperiment(ctx, e.Experiment)
	if err != nil {
		return err
	}
	if e.Variant < 0 || e.Variant >= len(exp.Variants) {
		return fmt.Errorf("variant %d out of range for %q", e.Variant, e.Experiment)
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (experiment, variant, event_type, visitor_id, segment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Experiment, e.Variant, e.EventType, e.VisitorID, e.Segment, created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetVariantStats counts distinct viewers per variant and, among them, the
// visitors who converted on the same variant. A convert without a matching
// view is not counted, so Conversions never exceeds Views.
func (s *SQLiteStore) GetVariantStats(ctx context.Context, experiment string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.variant,
			COUNT(DISTINCT v.visitor_id) as views,
			COUNT(DISTINCT c.visitor_id) as conversions
		FROM events v
		LEFT JOIN events c
			ON c.experiment = v.experiment
			AND c.variant = v.variant
			AND c.visitor_id = v.visitor_id
			AND c.event_type = 'convert'
		WHERE v.experiment = ? AND v.event_type = 'view'
		GROUP BY v.variant
		ORDER BY v.variant
	`, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant stats: %w", err)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.Variant, &vs.Views, &vs.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, vs)
	}
	return stats, rows.Err()
}

// GetSegmentStats is GetVariantStats broken down by the segment recorded on
// the view. Views without a segment are grouped under "".
func (s *SQLiteStore) GetSegmentStats(ctx context.Context, experiment string) ([]SegmentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.segment,
			v.variant,
			COUNT(DISTINCT v.visitor_id) as views,
			COUNT(DISTINCT c.visitor_id) as conversions
		FROM events v
		LEFT JOIN events c
			ON c.experiment = v.experiment
			AND c.variant = v.variant
			AND c.visitor_id = v.visitor_id
			AND c.event_type = 'convert'
		WHERE v.experiment = ? AND v.event_type = 'view'
		GROUP BY v.segment, v.variant
		ORDER BY v.segment, v.variant
	`, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment stats: %w", err)
	}
	defer rows.Close()

	var stats []SegmentStats
	for rows.Next() {
		var ss SegmentStats
		if err := rows.Scan(&ss.Segment, &ss.Variant, &ss.Views, &ss.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan segment stats: %w", err)
		}
		stats = append(stats, ss)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, experiment string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment, variant, event_type, visitor_id, segment, created_at
		 FROM events WHERE experiment = ? ORDER BY created_at DESC, id DESC`,
		experiment,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Experiment, &e.Variant, &e.EventType, &e.VisitorID, &e.Segment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) RecordObservation(ctx context.Context, o Observation) error {
	exp, err := s.GetExperiment(ctx, o.Experiment)
	if err != nil {
		return err
	}
	if o.Variant < 0 || o.Variant >= len(exp.Variants) {
		return fmt.Errorf("variant %d out of range for %q", o.Variant, o.Experiment)
	}

	date := o.Date
	if date.IsZero() {
		date = time.Now()
	}

	var covariate sql.NullFloat64
	if o.Covariate != nil {
		covariate = sql.NullFloat64{Float64: *o.Covariate, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO observations (experiment, variant, observed_on, value, covariate) VALUES (?, ?, ?, ?, ?)`,
		o.Experiment, o.Variant, date.UTC().Format(dateLayout), o.Value, covariate,
	)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// GetObservations returns observations in insertion order.
func (s *SQLiteStore) GetObservations(ctx context.Context, experiment string) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment, variant, observed_on, value, covariate
		 FROM observations WHERE experiment = ? ORDER BY id`,
		experiment,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}
	defer rows.Close()

	var observations []Observation
	for rows.Next() {
		var o Observation
		var date string
		var covariate sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.Experiment, &o.Variant, &date, &o.Value, &covariate); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse observation date %q: %w", date, err)
		}
		if covariate.Valid {
			c := covariate.Float64
			o.Covariate = &c
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// SaveAnalysis persists an analysis. An empty ID is filled with a new UUID.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, a Analysis) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, experiment, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Experiment, a.Kind, string(a.Payload), created.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("analysis %s: %w", a.ID, ErrExists)
		}
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns analyses created at or after since, newest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, experiment string, since time.Time) ([]Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment, kind, payload, created_at
		 FROM analyses WHERE experiment = ? AND created_at >= ?
		 ORDER BY created_at DESC, rowid DESC`,
		experiment, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []Analysis
	for rows.Next() {
		var a Analysis
		var payload string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Experiment, &a.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		a.Payload = []byte(payload)
		a.CreatedAt = time.Unix(createdAt, 0)
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func expectAffected(result sql.Result, name string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("experiment %q: %w", name, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
