package nest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/nest/internal/fetcher"
	"github.com/hazyhaar/cmsnest/nest/internal/marker"
	"github.com/hazyhaar/cmsnest/nest/internal/splice"
	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// ErrTimeout is returned, wrapped in the item outcome, when the response
// headers of an item fetch did not arrive in time.
var ErrTimeout = fetcher.ErrTimeout

// HTTPStatusError is the failure of a fetch answered with a non-2xx status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// task is a planned item fetch: the link passed validation and the item
// holds at least one dropzone.
type task struct {
	index     int
	marker    string
	href      string
	url       string
	dropzones []marker.Element
}

func (t *task) base() outcome.Item {
	return outcome.Item{Index: t.index, Marker: t.marker, Href: t.href, URL: t.url}
}

// plan validates one item without any network access. It returns either a
// task to run or the skipped outcome.
func (n *Nester) plan(log *slog.Logger, index int, item marker.Element, all []marker.Element, page *url.URL) (*task, outcome.Item) {
	inner := marker.Within(item.Node, all)
	mk := item.Role.Value

	link, ok := marker.First(inner, marker.KindLink)
	if !ok {
		log.Warn("nest: link not found", "item", index, "marker", mk)
		return nil, outcome.Skipped(index, mk, "", outcome.SkipNoLink)
	}
	href := marker.Href(link.Node)
	if href == "" {
		log.Warn("nest: href attribute not found", "item", index, "marker", mk)
		return nil, outcome.Skipped(index, mk, "", outcome.SkipNoHref)
	}

	origin := &url.URL{Scheme: page.Scheme, Host: page.Host, Path: "/"}
	resolved, err := origin.Parse(href)
	if err != nil {
		log.Error("nest: invalid url", "item", index, "href", href, "error", err)
		it := outcome.Skipped(index, mk, href, outcome.SkipInvalidURL)
		it.Err = err
		it.Error = err.Error()
		return nil, it
	}
	if !strings.EqualFold(resolved.Hostname(), page.Hostname()) {
		log.Warn("nest: url is not on the same domain", "item", index, "url", resolved.String())
		it := outcome.Skipped(index, mk, href, outcome.SkipCrossOrigin)
		it.URL = resolved.String()
		return nil, it
	}

	dropzones := marker.Filter(inner, marker.KindDropzone)
	if len(dropzones) == 0 {
		log.Debug("nest: no dropzones", "item", index, "href", href)
		return nil, outcome.Skipped(index, mk, href, outcome.SkipNoDropzones)
	}

	// The request goes to href as a page-relative reference, like a browser
	// fetch from the host page would.
	fetchURL, err := page.Parse(href)
	if err != nil {
		log.Error("nest: invalid url", "item", index, "href", href, "error", err)
		it := outcome.Skipped(index, mk, href, outcome.SkipInvalidURL)
		it.Err = err
		it.Error = err.Error()
		return nil, it
	}

	return &task{
		index:     index,
		marker:    mk,
		href:      href,
		url:       fetchURL.String(),
		dropzones: dropzones,
	}, outcome.Item{}
}

// runTask fetches the linked page and fills the item's dropzones. Every
// failure is logged and folded into the returned outcome.
func (n *Nester) runTask(ctx context.Context, log *slog.Logger, t *task, docMu *sync.Mutex) outcome.Item {
	start := time.Now()
	res := t.base()
	log = log.With("item", t.index, "url", t.url)

	fetched, kind, err := n.fetchDocument(ctx, t.url)
	if err != nil {
		log.Error("nest: fetch failed",
			"error", err,
			"kind", kind,
			"detail", "error fetching the link or request timed out")
		res = res.Failed(kind, err)
		var se *HTTPStatusError
		if errors.As(err, &se) {
			res.StatusCode = se.StatusCode
		}
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	targets := marker.Targets(fetched)

	docMu.Lock()
	substituted, missing, err := n.substitute(log, t.dropzones, targets)
	docMu.Unlock()

	res.Substituted = substituted
	res.Missing = missing
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		log.Error("nest: fetch failed", "error", err, "kind", outcome.FailParse)
		return res.Failed(outcome.FailParse, err)
	}
	res.Status = outcome.StatusSucceeded
	return res
}

// fetchDocument GETs and parses one linked page.
func (n *Nester) fetchDocument(ctx context.Context, rawURL string) (*html.Node, outcome.FailureKind, error) {
	if n.guard != nil {
		if err := n.guard.Check(ctx, rawURL); err != nil {
			return nil, outcome.FailNetwork, err
		}
	}
	resp, err := n.fetch.Fetch(ctx, rawURL, n.timeout, n.reqOpts...)
	if err != nil {
		if errors.Is(err, fetcher.ErrTimeout) {
			return nil, outcome.FailTimeout, err
		}
		return nil, outcome.FailNetwork, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, outcome.FailHTTPStatus, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := n.fetch.ReadBody(resp)
	if err != nil {
		return nil, outcome.FailRead, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, outcome.FailParse, fmt.Errorf("nest: parse %s: %w", rawURL, err)
	}
	return doc, "", nil
}

// substitute fills dropzones from targets. Each dropzone takes the next
// unused target of its slot in document order. Caller holds the document lock.
func (n *Nester) substitute(log *slog.Logger, dropzones []marker.Element, targets map[string][]*html.Node) (substituted, missing []string, err error) {
	for _, dz := range dropzones {
		slot := dz.Role.Slot
		queue := targets[slot]
		if len(queue) == 0 {
			log.Warn("nest: target not found in fetched content", "target", marker.TargetValue(slot))
			missing = append(missing, slot)
			continue
		}
		target := queue[0]
		targets[slot] = queue[1:]
		if n.sanitizer == nil {
			splice.Replace(dz.Node, target)
		} else {
			nodes, err := n.sanitizer.Clean(dz.Node, target)
			if err != nil {
				return substituted, missing, err
			}
			splice.Replace(dz.Node, nodes...)
		}
		substituted = append(substituted, slot)
	}
	return substituted, missing, nil
}
