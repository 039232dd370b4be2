// Package outcome defines the per-item results and run reports produced by
// the nest orchestrator. Every discovered nest item settles into exactly one
// Item: succeeded, skipped (with a reason) or failed (with an error kind).
package outcome

import "time"

// EventComplete is the name of the completion signal emitted once per run,
// after every item has settled.
const EventComplete = "cmsNestComplete"

// Status is the terminal state of a nest item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	// StatusPlanned is only produced by dry-run scans: the item would be fetched.
	StatusPlanned Status = "planned"
)

// SkipReason explains why no request was issued for an item.
type SkipReason string

const (
	SkipNoLink      SkipReason = "no-link"
	SkipNoHref      SkipReason = "no-href"
	SkipInvalidURL  SkipReason = "invalid-url"
	SkipCrossOrigin SkipReason = "cross-origin"
	SkipNoDropzones SkipReason = "no-dropzones"
)

// FailureKind classifies a failed fetch.
type FailureKind string

const (
	FailTimeout    FailureKind = "timeout"
	FailNetwork    FailureKind = "network"
	FailHTTPStatus FailureKind = "http-status"
	FailRead       FailureKind = "read"
	FailParse      FailureKind = "parse"
)

// Item is the settled result of one nest item.
type Item struct {
	Index       int         `json:"index"`  // position among the page's items, document order
	Marker      string      `json:"marker"` // raw marker value of the item root
	Href        string      `json:"href,omitempty"`
	URL         string      `json:"url,omitempty"` // resolved fetch URL
	Status      Status      `json:"status"`
	Reason      SkipReason  `json:"reason,omitempty"`
	Kind        FailureKind `json:"kind,omitempty"`
	Error       string      `json:"error,omitempty"`
	StatusCode  int         `json:"status_code,omitempty"`
	Substituted []string    `json:"substituted,omitempty"` // slots that received a target
	Missing     []string    `json:"missing,omitempty"`     // slots with no target in the fetched page
	DurationMs  int64       `json:"duration_ms"`

	Err error `json:"-"`
}

// Skipped builds the outcome of an item that never reached the network.
func Skipped(index int, marker, href string, reason SkipReason) Item {
	return Item{Index: index, Marker: marker, Href: href, Status: StatusSkipped, Reason: reason}
}

// Failed marks it as failed with err, classified as kind.
func (it Item) Failed(kind FailureKind, err error) Item {
	it.Status = StatusFailed
	it.Kind = kind
	it.Err = err
	if err != nil {
		it.Error = err.Error()
	}
	return it
}

// Report is the aggregate result of one orchestration run.
type Report struct {
	RunID      string `json:"run_id"`
	PageURL    string `json:"page_url"`
	StartedAt  int64  `json:"started_at"`  // epoch milliseconds
	FinishedAt int64  `json:"finished_at"` // epoch milliseconds
	Items      []Item `json:"items"`
}

// Count returns the number of items in the given status.
func (r *Report) Count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// Substitutions returns the total number of dropzones that were filled.
func (r *Report) Substitutions() int {
	n := 0
	for _, it := range r.Items {
		n += len(it.Substituted)
	}
	return n
}

// Duration is the wall time between start and the completion signal.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.FinishedAt-r.StartedAt) * time.Millisecond
}

// Completion is the payload-less completion signal. It only identifies the
// run it closes.
type Completion struct {
	Event     string `json:"event"`
	RunID     string `json:"run_id"`
	PageURL   string `json:"page_url"`
	Timestamp int64  `json:"timestamp"`
}

// RunSummary is a stored run without its items.
type RunSummary struct {
	RunID      string `json:"run_id"`
	PageURL    string `json:"page_url"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	Succeeded  int    `json:"succeeded"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}
