package store

import "time"

type ExperimentState string

const (
	StateRunning   ExperimentState = "running"
	StatePaused    ExperimentState = "paused"
	StateCompleted ExperimentState = "completed"
)

// ValidState reports whether s is a known experiment state.
func ValidState(s ExperimentState) bool {
	switch s {
	case StateRunning, StatePaused, StateCompleted:
		return true
	}
	return false
}

const (
	EventView    = "view"
	EventConvert = "convert"
)

type Experiment struct {
	ID            int64
	Name          string
	Variants      []string  // Decoded from JSON; index 0 is control
	Weights       []float64 // Optional planned allocation, decoded from JSON
	Hypothesis    string    // Optional description of the expected change
	State         ExperimentState
	WinnerVariant *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExpectedRatios returns the planned allocation normalised to sum to 1,
// or nil for an equal split.
func (e *Experiment) ExpectedRatios() []float64 {
	if len(e.Weights) != len(e.Variants) {
		return nil
	}
	sum := 0.0
	for _, w := range e.Weights {
		sum += w
	}
	if sum <= 0 {
		return nil
	}
	ratios := make([]float64, len(e.Weights))
	for i, w := range e.Weights {
		ratios[i] = w / sum
	}
	return ratios
}

type Event struct {
	ID         int64
	Experiment string
	Variant    int
	EventType  string // "view" or "convert"
	VisitorID  string
	Segment    string // Optional, e.g. "mobile"
	CreatedAt  time.Time
}

type VariantStats struct {
	Variant     int
	Views       int
	Conversions int
}

type SegmentStats struct {
	Segment     string
	Variant     int
	Views       int
	Conversions int
}

// Observation is one continuous metric value, optionally with the same
// unit's pre-experiment value as a covariate.
type Observation struct {
	ID         int64
	Experiment string
	Variant    int
	Date       time.Time
	Value      float64
	Covariate  *float64
}

// Analysis is a persisted analysis result.
type Analysis struct {
	ID         string
	Experiment string
	Kind       string
	Payload    []byte // JSON
	CreatedAt  time.Time
}
