package sink

import (
	"context"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// ReportSaver persists whole reports.
type ReportSaver interface {
	SaveReport(ctx context.Context, r *outcome.Report) error
}

// Store persists each run's report. Outcomes and completions are not
// written individually: the report carries them.
type Store struct {
	saver ReportSaver
}

// NewStore creates a Store sink backed by saver.
func NewStore(saver ReportSaver) *Store {
	return &Store{saver: saver}
}

func (s *Store) SendOutcome(context.Context, outcome.Item) error { return nil }

func (s *Store) SendComplete(context.Context, outcome.Completion) error { return nil }

func (s *Store) SendReport(ctx context.Context, r *outcome.Report) error {
	return s.saver.SaveReport(ctx, r)
}

// Close does not close the saver; its owner does.
func (s *Store) Close() error { return nil }
