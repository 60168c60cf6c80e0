package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gkobilansky/abgoat/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// SeedConversions creates a two-variant experiment and records views and
// conversions per variant. Visitor ids are unique per variant.
func SeedConversions(t *testing.T, s store.Store, name string, views, conversions [2]int) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	exp, err := s.CreateExperiment(ctx, name, []string{"control", "treatment"}, nil, "")
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	for v := 0; v < 2; v++ {
		for i := 0; i < views[v]; i++ {
			visitor := visitorID(v, i)
			if err := s.RecordEvent(ctx, store.Event{Experiment: name, Variant: v, EventType: store.EventView, VisitorID: visitor}); err != nil {
				t.Fatalf("failed to record view: %v", err)
			}
			if i < conversions[v] {
				if err := s.RecordEvent(ctx, store.Event{Experiment: name, Variant: v, EventType: store.EventConvert, VisitorID: visitor}); err != nil {
					t.Fatalf("failed to record conversion: %v", err)
				}
			}
		}
	}
	return exp
}

func visitorID(variant, i int) string {
	return fmt.Sprintf("v%d-%d", variant, i)
}
