package sink

import (
	"context"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// OutcomeFunc is called for each settled item.
type OutcomeFunc func(ctx context.Context, item outcome.Item) error

// CompleteFunc is called once per run after every item settled.
type CompleteFunc func(ctx context.Context, c outcome.Completion) error

// ReportFunc is called once per run with the full report.
type ReportFunc func(ctx context.Context, r *outcome.Report) error

// Callback delivers outcomes as in-process function calls. Any handler may
// be nil.
type Callback struct {
	onOutcome  OutcomeFunc
	onComplete CompleteFunc
	onReport   ReportFunc
}

// NewCallback creates a Callback sink.
func NewCallback(onOutcome OutcomeFunc, onComplete CompleteFunc, onReport ReportFunc) *Callback {
	return &Callback{onOutcome: onOutcome, onComplete: onComplete, onReport: onReport}
}

func (c *Callback) SendOutcome(ctx context.Context, item outcome.Item) error {
	if c.onOutcome != nil {
		return c.onOutcome(ctx, item)
	}
	return nil
}

func (c *Callback) SendComplete(ctx context.Context, comp outcome.Completion) error {
	if c.onComplete != nil {
		return c.onComplete(ctx, comp)
	}
	return nil
}

func (c *Callback) SendReport(ctx context.Context, r *outcome.Report) error {
	if c.onReport != nil {
		return c.onReport(ctx, r)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
