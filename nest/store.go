package nest

import (
	"context"

	"github.com/hazyhaar/cmsnest/nest/internal/sink"
	"github.com/hazyhaar/cmsnest/nest/internal/store"
	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// Store persists run reports in SQLite.
type Store = store.Store

// OpenStore opens (or creates) the report database at path.
func OpenStore(path string) (*Store, error) {
	return store.Open(path)
}

// NewStoreSink creates a sink that saves every report into st.
func NewStoreSink(st *Store) Sink {
	return sink.NewStore(st)
}

// RunStore reads stored reports. *Store implements it.
type RunStore interface {
	GetReport(ctx context.Context, runID string) (*outcome.Report, error)
	ListRuns(ctx context.Context, limit int) ([]outcome.RunSummary, error)
}
