package nest

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/cmsnest/nest/internal/sink"
)

// Sink receives item outcomes, completion signals and run reports.
type Sink = sink.Sink

// NewStdoutSink creates a sink that writes JSON lines to w.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a sink that POSTs completions and reports to url.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// OutcomeFunc handles one settled item.
type OutcomeFunc = sink.OutcomeFunc

// CompleteFunc handles the completion signal.
type CompleteFunc = sink.CompleteFunc

// ReportFunc handles the final report.
type ReportFunc = sink.ReportFunc

// NewCallbackSink creates an in-process sink. Nil handlers are ignored.
func NewCallbackSink(onOutcome OutcomeFunc, onComplete CompleteFunc, onReport ReportFunc) Sink {
	return sink.NewCallback(onOutcome, onComplete, onReport)
}
