// Package nest composes HTML pages from fragments of other same-origin pages.
//
// A host document marks nest items with data-cms-nest="item...". Each item
// holds a link (data-cms-nest="link" with an href) and dropzones
// (data-cms-nest="dropzone-<slot>"). Run fetches every item's linked page
// concurrently, moves each data-cms-nest="target-<slot>" element of the
// fetched page into the matching dropzone, and once every item has settled
// emits the cmsNestComplete signal and returns a typed per-item report.
//
// Usage:
//
//	n := nest.New(nest.WithLogger(logger), nest.WithOnComplete(func() { ... }))
//	doc, _ := n.LoadURL(ctx, "https://example.com/page")
//	report, err := n.Run(ctx, doc, "https://example.com/page")
package nest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/cmsnest/kit"
	"github.com/hazyhaar/cmsnest/nest/internal/fetcher"
	"github.com/hazyhaar/cmsnest/nest/internal/marker"
	"github.com/hazyhaar/cmsnest/nest/internal/sink"
	"github.com/hazyhaar/cmsnest/nest/internal/splice"
	"github.com/hazyhaar/cmsnest/nest/internal/urlguard"
	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// DefaultTimeout bounds the wait for response headers of each item fetch.
const DefaultTimeout = fetcher.DefaultTimeout

// EventComplete is the name of the completion signal.
const EventComplete = outcome.EventComplete

// Nester runs the nesting pass over host documents. It is safe for
// concurrent use; each Run is independent.
type Nester struct {
	fetch      *fetcher.Fetcher
	timeout    time.Duration
	reqOpts    []fetcher.RequestOption
	sanitizer  *splice.Sanitizer
	guard      *urlguard.Guard
	sinks      *sink.Router
	onComplete []func()
	newID      func() string
	logger     *slog.Logger
}

// New creates a Nester.
func New(opts ...Option) *Nester {
	n := &Nester{
		timeout: DefaultTimeout,
		newID:   newRunID,
		logger:  slog.Default(),
	}
	var s settings
	for _, o := range opts {
		o(n, &s)
	}
	fopts := append([]fetcher.Option{fetcher.WithLogger(n.logger)}, s.fetchOpts...)
	if n.guard != nil {
		fopts = append(fopts, fetcher.WithCheckRedirect(n.guard.CheckRedirect))
	}
	n.fetch = fetcher.New(fopts...)
	n.sinks = sink.NewRouter(n.logger, s.sinks...)
	return n
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run performs one nesting pass over doc, the document loaded from pageURL.
//
// Every item whose link resolves to pageURL's host is fetched concurrently;
// items are never retried and never share a fetch. Run returns once every
// item has settled and the completion signal was emitted. It fails only on
// invalid input; per-item problems are reported in the Report.
//
// Cancelling ctx does not abort a started pass: each fetch is bounded by
// its own header timeout instead. Values carried by ctx are kept.
func (n *Nester) Run(ctx context.Context, doc *html.Node, pageURL string) (*outcome.Report, error) {
	if doc == nil {
		return nil, fmt.Errorf("nest: nil document")
	}
	page, err := parsePageURL(pageURL)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	report := &outcome.Report{
		RunID:     n.newID(),
		PageURL:   page.String(),
		StartedAt: time.Now().UnixMilli(),
	}
	log := n.logger.With("run_id", report.RunID, "page", report.PageURL)
	if rid := kit.GetRequestID(ctx); rid != "" {
		log = log.With("request_id", rid)
	}

	elems := marker.Scan(doc)
	items := marker.Filter(elems, marker.KindItem)
	report.Items = make([]outcome.Item, len(items))

	var (
		docMu sync.Mutex // serialises document mutation across items
		g     errgroup.Group
	)
	for i, item := range items {
		t, skipped := n.plan(log, i, item, elems, page)
		if t == nil {
			report.Items[i] = skipped
			n.emitOutcome(ctx, log, skipped)
			continue
		}
		g.Go(func() error {
			res := n.runTask(ctx, log, t, &docMu)
			report.Items[i] = res
			n.emitOutcome(ctx, log, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("nest: one or more fetch requests failed", "error", err)
	}

	report.FinishedAt = time.Now().UnixMilli()
	n.complete(ctx, log, report)
	return report, nil
}

// Scan reports, without any network access, what Run would do with each
// item of doc: the skip reason, or StatusPlanned with the URL to fetch.
func (n *Nester) Scan(doc *html.Node, pageURL string) ([]outcome.Item, error) {
	if doc == nil {
		return nil, fmt.Errorf("nest: nil document")
	}
	page, err := parsePageURL(pageURL)
	if err != nil {
		return nil, err
	}
	log := n.logger.With("page", page.String(), "dry_run", true)

	elems := marker.Scan(doc)
	items := marker.Filter(elems, marker.KindItem)
	out := make([]outcome.Item, len(items))
	for i, item := range items {
		t, skipped := n.plan(log, i, item, elems, page)
		if t == nil {
			out[i] = skipped
			continue
		}
		out[i] = t.base()
		out[i].Status = outcome.StatusPlanned
	}
	return out, nil
}

func (n *Nester) emitOutcome(ctx context.Context, log *slog.Logger, it outcome.Item) {
	if err := n.sinks.SendOutcome(ctx, it); err != nil {
		log.Warn("nest: outcome delivery failed", "item", it.Index, "error", err)
	}
}

// complete emits the completion signal: hooks first, then sinks.
func (n *Nester) complete(ctx context.Context, log *slog.Logger, report *outcome.Report) {
	for _, fn := range n.onComplete {
		fn()
	}
	c := outcome.Completion{
		Event:     EventComplete,
		RunID:     report.RunID,
		PageURL:   report.PageURL,
		Timestamp: report.FinishedAt,
	}
	if err := n.sinks.SendComplete(ctx, c); err != nil {
		log.Warn("nest: completion delivery failed", "error", err)
	}
	if err := n.sinks.SendReport(ctx, report); err != nil {
		log.Warn("nest: report delivery failed", "error", err)
	}
	log.Info("nest: complete",
		"items", len(report.Items),
		"succeeded", report.Count(outcome.StatusSucceeded),
		"skipped", report.Count(outcome.StatusSkipped),
		"failed", report.Count(outcome.StatusFailed),
		"substituted", report.Substitutions(),
		"duration", report.Duration())
}

// Close releases the sinks.
func (n *Nester) Close() error {
	return n.sinks.Close()
}

func parsePageURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("nest: page url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("nest: page url %q: want absolute http(s) url", raw)
	}
	return u, nil
}
