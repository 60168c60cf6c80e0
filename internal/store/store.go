package store

import (
	"context"
	"time"
)

// Store defines the interface for experiment storage operations
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, name string, variants []string, weights []float64, hypothesis string) (*Experiment, error)
	GetExperiment(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	UpdateExperimentState(ctx context.Context, name string, state ExperimentState, winnerVariant *int) error
	SetWinner(ctx context.Context, name string, variant int) error
	DeleteExperiment(ctx context.Context, name string) error

	// Event operations
	RecordEvent(ctx context.Context, e Event) error
	GetVariantStats(ctx context.Context, experiment string) ([]VariantStats, error)
	GetSegmentStats(ctx context.Context, experiment string) ([]SegmentStats, error)
	GetEvents(ctx context.Context, experiment string) ([]*Event, error)

	// Observation operations
	RecordObservation(ctx context.Context, o Observation) error
	GetObservations(ctx context.Context, experiment string) ([]Observation, error)

	// Analysis history
	SaveAnalysis(ctx context.Context, a Analysis) error
	ListAnalyses(ctx context.Context, experiment string, since time.Time) ([]Analysis, error)

	// Lifecycle
	Close() error
}
