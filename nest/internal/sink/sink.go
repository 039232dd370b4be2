// Package sink defines output backends for nest outcomes and completion
// signals.
package sink

import (
	"context"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// Sink receives per-item outcomes as they settle, then the completion
// signal and the full report once per run. Outcomes of one run may arrive
// from several goroutines; implementations must be safe for concurrent use.
type Sink interface {
	SendOutcome(ctx context.Context, item outcome.Item) error
	SendComplete(ctx context.Context, c outcome.Completion) error
	SendReport(ctx context.Context, r *outcome.Report) error
	Close() error
}
