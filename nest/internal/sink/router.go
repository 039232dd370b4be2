package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len reports how many sinks the router delivers to.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendOutcome(ctx context.Context, item outcome.Item) error {
	return r.each("outcome", func(s Sink) error { return s.SendOutcome(ctx, item) })
}

func (r *Router) SendComplete(ctx context.Context, c outcome.Completion) error {
	return r.each("complete", func(s Sink) error { return s.SendComplete(ctx, c) })
}

func (r *Router) SendReport(ctx context.Context, rep *outcome.Report) error {
	return r.each("report", func(s Sink) error { return s.SendReport(ctx, rep) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(what string, send func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: send failed", "what", what, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
