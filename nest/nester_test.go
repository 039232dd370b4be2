package nest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/nest/outcome"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// site serves fixed pages and counts requests per path.
type site struct {
	srv *httptest.Server

	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newSite(t *testing.T, pages map[string]string) *site {
	t.Helper()
	s := &site{pages: pages, hits: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) url(path string) string { return s.srv.URL + path }

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *site) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.hits {
		n += c
	}
	return n
}

func (s *site) nester(opts ...Option) *Nester {
	base := []Option{WithLogger(quietLogger), WithHTTPClient(s.srv.Client())}
	return New(append(base, opts...)...)
}

// hostClient dials the mapped address for the listed host:port pairs
// (case-insensitive) and the requested one otherwise.
func hostClient(t *testing.T, hosts map[string]string) *http.Client {
	t.Helper()
	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if to, ok := hosts[strings.ToLower(addr)]; ok {
				addr = to
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr}
}

func mustParse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func findByAttr(n *html.Node, key, val string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == key && a.Val == val {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findByAttr(c, key, val); f != nil {
			return f
		}
	}
	return nil
}

func inner(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			t.Fatal(err)
		}
	}
	return buf.String()
}

func dropzone(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	dz := findByAttr(doc, "id", id)
	if dz == nil {
		t.Fatalf("dropzone %s not found", id)
	}
	return dz
}

func TestRun_SubstitutesTarget(t *testing.T) {
	// WHAT: A matching target replaces the dropzone's children.
	// WHY: Core behaviour; the fetched target element itself is moved in.
	s := newSite(t, map[string]string{
		"/shared": `<html><body><div data-cms-nest="target-1"><p>Hi</p></div></body></html>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item-a">
		<a data-cms-nest="link" href="/shared">shared</a>
		<div id="dz1" data-cms-nest="dropzone-1">placeholder</div>
	</div>`)

	var completions atomic.Int32
	n := s.nester(WithOnComplete(func() { completions.Add(1) }))
	report, err := n.Run(context.Background(), doc, s.url("/page"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := inner(t, dropzone(t, doc, "dz1")); got != `<div data-cms-nest="target-1"><p>Hi</p></div>` {
		t.Errorf("dropzone: got %s", got)
	}
	if completions.Load() != 1 {
		t.Errorf("completions: got %d, want 1", completions.Load())
	}
	if len(report.Items) != 1 {
		t.Fatalf("items: got %d", len(report.Items))
	}
	it := report.Items[0]
	if it.Status != outcome.StatusSucceeded {
		t.Errorf("status: got %s (%s)", it.Status, it.Error)
	}
	if diff := cmp.Diff([]string{"1"}, it.Substituted); diff != "" {
		t.Errorf("substituted (-want +got):\n%s", diff)
	}
	if it.URL != s.url("/shared") {
		t.Errorf("url: got %s", it.URL)
	}
}

func TestRun_SkippedItemsIssueNoRequest(t *testing.T) {
	// WHAT: Items without link or href, with an unparsable or cross-origin
	// href, or without dropzones are skipped before any network access.
	// WHY: Validation failures must leave the page and the network untouched.
	s := newSite(t, map[string]string{
		"/x": `<div data-cms-nest="target-1">X</div>`,
	})
	doc := mustParse(t, `
		<div data-cms-nest="item-nolink"><div id="a" data-cms-nest="dropzone-1">a</div></div>
		<div data-cms-nest="item-nohref"><a data-cms-nest="link">x</a><div id="b" data-cms-nest="dropzone-1">b</div></div>
		<div data-cms-nest="item-cross"><a data-cms-nest="link" href="https://other.example/x">x</a><div id="c" data-cms-nest="dropzone-1">c</div></div>
		<div data-cms-nest="item-badurl"><a data-cms-nest="link" href="http://exa mple.com/">x</a><div id="d" data-cms-nest="dropzone-1">d</div></div>
		<div data-cms-nest="item-nodz"><a data-cms-nest="link" href="/x">x</a></div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}
	if s.total() != 0 {
		t.Errorf("requests: got %d, want 0", s.total())
	}

	var reasons []outcome.SkipReason
	for _, it := range report.Items {
		if it.Status != outcome.StatusSkipped {
			t.Errorf("item %d: status %s", it.Index, it.Status)
		}
		reasons = append(reasons, it.Reason)
	}
	want := []outcome.SkipReason{outcome.SkipNoLink, outcome.SkipNoHref, outcome.SkipCrossOrigin, outcome.SkipInvalidURL, outcome.SkipNoDropzones}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Errorf("reasons (-want +got):\n%s", diff)
	}
	if report.Items[3].Error == "" {
		t.Error("invalid-url skip should carry the parse error")
	}
	for id, text := range map[string]string{"a": "a", "b": "b", "c": "c", "d": "d"} {
		if got := inner(t, dropzone(t, doc, id)); got != text {
			t.Errorf("dropzone %s changed: %s", id, got)
		}
	}
}

func TestRun_MissingTargetLeavesDropzone(t *testing.T) {
	// WHAT: A dropzone without a matching target keeps its children while its
	// sibling is still filled.
	// WHY: Mismatches are per dropzone and never fatal.
	s := newSite(t, map[string]string{
		"/part": `<span data-cms-nest="target-1">one</span>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item">
		<a data-cms-nest="link" href="/part">p</a>
		<div id="dz1" data-cms-nest="dropzone-1">old1</div>
		<div id="dz2" data-cms-nest="dropzone-2"><em>old2</em></div>
	</div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/"))
	if err != nil {
		t.Fatal(err)
	}
	if got := inner(t, dropzone(t, doc, "dz1")); got != `<span data-cms-nest="target-1">one</span>` {
		t.Errorf("dz1: got %s", got)
	}
	if got := inner(t, dropzone(t, doc, "dz2")); got != `<em>old2</em>` {
		t.Errorf("dz2: got %s", got)
	}
	it := report.Items[0]
	if it.Status != outcome.StatusSucceeded {
		t.Errorf("status: got %s", it.Status)
	}
	if diff := cmp.Diff([]string{"2"}, it.Missing); diff != "" {
		t.Errorf("missing (-want +got):\n%s", diff)
	}
}

func TestRun_HostMatchIgnoresCase(t *testing.T) {
	// WHAT: An href naming the page host in another case is same-origin and fetched.
	// WHY: Host names are case-insensitive.
	s := newSite(t, map[string]string{
		"/shared": `<div data-cms-nest="target-1">shared</div>`,
	})
	client := hostClient(t, map[string]string{"example.test:80": s.srv.Listener.Addr().String()})
	doc := mustParse(t, `<div data-cms-nest="item">
		<a data-cms-nest="link" href="http://EXAMPLE.TEST/shared">s</a>
		<div id="dz" data-cms-nest="dropzone-1">old</div>
	</div>`)

	n := New(WithLogger(quietLogger), WithHTTPClient(client))
	report, err := n.Run(context.Background(), doc, "http://example.test/page")
	if err != nil {
		t.Fatal(err)
	}
	if it := report.Items[0]; it.Status != outcome.StatusSucceeded {
		t.Fatalf("status: got %s reason=%s (%s)", it.Status, it.Reason, it.Error)
	}
	if s.count("/shared") != 1 {
		t.Errorf("hits: got %d, want 1", s.count("/shared"))
	}
	if got := inner(t, dropzone(t, doc, "dz")); got != `<div data-cms-nest="target-1">shared</div>` {
		t.Errorf("dropzone: got %s", got)
	}
}

func TestRun_SharedSlotTakesTargetsInOrder(t *testing.T) {
	// WHAT: Dropzones sharing a slot take that slot's targets one each, in
	// document order; a dropzone left over keeps its content and is missing.
	// WHY: Each lookup sees the fetched page after earlier targets moved out.
	s := newSite(t, map[string]string{
		"/multi": `<div data-cms-nest="target-1">first</div><div data-cms-nest="target-1">second</div>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item">
		<a data-cms-nest="link" href="/multi">m</a>
		<div id="a" data-cms-nest="dropzone-1">a</div>
		<div id="b" data-cms-nest="dropzone-1">b</div>
		<div id="c" data-cms-nest="dropzone-1">c</div>
	</div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/"))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"a": `<div data-cms-nest="target-1">first</div>`,
		"b": `<div data-cms-nest="target-1">second</div>`,
		"c": "c",
	}
	for id, w := range want {
		if got := inner(t, dropzone(t, doc, id)); got != w {
			t.Errorf("dropzone %s: got %s, want %s", id, got, w)
		}
	}
	it := report.Items[0]
	if diff := cmp.Diff([]string{"1", "1"}, it.Substituted); diff != "" {
		t.Errorf("substituted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1"}, it.Missing); diff != "" {
		t.Errorf("missing (-want +got):\n%s", diff)
	}
}

func TestRun_TimeoutStillCompletes(t *testing.T) {
	// WHAT: A fetch slower than the deadline fails as a timeout, leaves its
	// dropzones alone, and the completion signal still fires once.
	// WHY: One slow page must never block composition of the others.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		io.WriteString(w, `<div data-cms-nest="target-1">fast</div>`)
	}))
	defer slow.Close()
	defer close(release)

	doc := mustParse(t, `
		<div data-cms-nest="item-slow"><a data-cms-nest="link" href="/slow">s</a><div id="s" data-cms-nest="dropzone-1">waiting</div></div>
		<div data-cms-nest="item-fast"><a data-cms-nest="link" href="/fast">f</a><div id="f" data-cms-nest="dropzone-1">waiting</div></div>`)

	var completions atomic.Int32
	n := New(WithLogger(quietLogger), WithHTTPClient(slow.Client()),
		WithTimeout(50*time.Millisecond),
		WithOnComplete(func() { completions.Add(1) }))

	report, err := n.Run(context.Background(), doc, slow.URL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if completions.Load() != 1 {
		t.Errorf("completions: got %d, want 1", completions.Load())
	}

	slowItem := report.Items[0]
	if slowItem.Status != outcome.StatusFailed || slowItem.Kind != outcome.FailTimeout {
		t.Errorf("slow item: got %s/%s", slowItem.Status, slowItem.Kind)
	}
	if !errors.Is(slowItem.Err, ErrTimeout) {
		t.Errorf("slow item error: got %v, want ErrTimeout", slowItem.Err)
	}
	if got := inner(t, dropzone(t, doc, "s")); got != "waiting" {
		t.Errorf("slow dropzone changed: %s", got)
	}
	if got := inner(t, dropzone(t, doc, "f")); !strings.Contains(got, "fast") {
		t.Errorf("fast dropzone: got %s", got)
	}
}

func TestRun_SameHrefFetchedIndependently(t *testing.T) {
	// WHAT: Two items sharing an href each issue their own request.
	// WHY: There is no cache; each item owns its fetched document.
	s := newSite(t, map[string]string{
		"/shared": `<div data-cms-nest="target-1">S</div>`,
	})
	doc := mustParse(t, `
		<div data-cms-nest="item-1"><a data-cms-nest="link" href="/shared">1</a><div id="a" data-cms-nest="dropzone-1"></div></div>
		<div data-cms-nest="item-2"><a data-cms-nest="link" href="/shared">2</a><div id="b" data-cms-nest="dropzone-1"></div></div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.count("/shared"); got != 2 {
		t.Errorf("requests: got %d, want 2", got)
	}
	if report.Substitutions() != 2 {
		t.Errorf("substitutions: got %d, want 2", report.Substitutions())
	}
	for _, id := range []string{"a", "b"} {
		if got := inner(t, dropzone(t, doc, id)); got != `<div data-cms-nest="target-1">S</div>` {
			t.Errorf("dropzone %s: got %s", id, got)
		}
	}
}

func TestRun_HTTPStatusFailure(t *testing.T) {
	s := newSite(t, map[string]string{})
	doc := mustParse(t, `<div data-cms-nest="item"><a data-cms-nest="link" href="/gone">g</a><div id="dz" data-cms-nest="dropzone-1">keep</div></div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}
	it := report.Items[0]
	if it.Kind != outcome.FailHTTPStatus || it.StatusCode != http.StatusNotFound {
		t.Errorf("outcome: got kind=%s status=%d", it.Kind, it.StatusCode)
	}
	var se *HTTPStatusError
	if !errors.As(it.Err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("error: got %v", it.Err)
	}
	if got := inner(t, dropzone(t, doc, "dz")); got != "keep" {
		t.Errorf("dropzone changed: %s", got)
	}
}

func TestRun_NetworkFailure(t *testing.T) {
	s := newSite(t, map[string]string{})
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	doc := mustParse(t, fmt.Sprintf(`<div data-cms-nest="item"><a data-cms-nest="link" href="%s/x">x</a><div data-cms-nest="dropzone-1"></div></div>`, deadURL))
	report, err := s.nester().Run(context.Background(), doc, deadURL+"/page")
	if err != nil {
		t.Fatal(err)
	}
	if it := report.Items[0]; it.Kind != outcome.FailNetwork {
		t.Errorf("kind: got %q (%s)", it.Kind, it.Error)
	}
}

func TestRun_SignalOrder(t *testing.T) {
	// WHAT: Sinks see every outcome, then one completion, then the report.
	// WHY: The completion signal is strictly after every item settled.
	s := newSite(t, map[string]string{
		"/a": `<div data-cms-nest="target-1">A</div>`,
	})
	doc := mustParse(t, `
		<div data-cms-nest="item-1"><a data-cms-nest="link" href="/a">a</a><div data-cms-nest="dropzone-1"></div></div>
		<div data-cms-nest="item-2"></div>
		<div data-cms-nest="item-3"><a data-cms-nest="link" href="/missing">m</a><div data-cms-nest="dropzone-1"></div></div>`)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	cb := NewCallbackSink(
		func(_ context.Context, it outcome.Item) error { record("outcome"); return nil },
		func(_ context.Context, c outcome.Completion) error {
			if c.Event != EventComplete || c.RunID != "run-1" {
				t.Errorf("completion: got %+v", c)
			}
			record("complete")
			return nil
		},
		func(_ context.Context, r *outcome.Report) error { record("report"); return nil },
	)

	n := s.nester(WithSinks(cb), withRunID(func() string { return "run-1" }),
		WithOnComplete(func() { record("hook") }))
	report, err := n.Run(context.Background(), doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"outcome", "outcome", "outcome", "hook", "complete", "report"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	for i, it := range report.Items {
		if it.Index != i {
			t.Errorf("item %d has index %d", i, it.Index)
		}
	}
	if report.RunID != "run-1" || report.FinishedAt < report.StartedAt {
		t.Errorf("report header: %+v", report)
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	// WHAT: A cancelled context does not abort item fetches.
	// WHY: The pass has no caller-facing cancellation; only the timeout aborts.
	s := newSite(t, map[string]string{
		"/a": `<div data-cms-nest="target-1">A</div>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item"><a data-cms-nest="link" href="/a">a</a><div id="dz" data-cms-nest="dropzone-1"></div></div>`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := s.nester().Run(ctx, doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}
	if report.Items[0].Status != outcome.StatusSucceeded {
		t.Errorf("status: got %s (%s)", report.Items[0].Status, report.Items[0].Error)
	}
}

func TestRun_RelativeHref(t *testing.T) {
	// WHAT: A relative href is fetched relative to the page, validated
	// against the page origin.
	s := newSite(t, map[string]string{
		"/docs/part": `<div data-cms-nest="target-x">P</div>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item"><a data-cms-nest="link" href="part">p</a><div id="dz" data-cms-nest="dropzone-x"></div></div>`)

	report, err := s.nester().Run(context.Background(), doc, s.url("/docs/page.html"))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.count("/docs/part"); got != 1 {
		t.Errorf("requests to /docs/part: got %d", got)
	}
	if it := report.Items[0]; it.Status != outcome.StatusSucceeded {
		t.Errorf("status: got %s (%s)", it.Status, it.Error)
	}
}

func TestRun_Sanitize(t *testing.T) {
	s := newSite(t, map[string]string{
		"/a": `<div data-cms-nest="target-1"><p onclick="x()">A</p><script>bad()</script></div>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item"><a data-cms-nest="link" href="/a">a</a><div id="dz" data-cms-nest="dropzone-1"></div></div>`)

	if _, err := s.nester(WithSanitize(true)).Run(context.Background(), doc, s.url("/page")); err != nil {
		t.Fatal(err)
	}
	got := inner(t, dropzone(t, doc, "dz"))
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Errorf("unsafe markup survived: %s", got)
	}
	if !strings.Contains(got, "<p>A</p>") {
		t.Errorf("content lost: %s", got)
	}
}

func TestRun_TwiceFetchesTwice(t *testing.T) {
	s := newSite(t, map[string]string{
		"/a": `<div data-cms-nest="target-1">A</div>`,
	})
	doc := mustParse(t, `<div data-cms-nest="item"><a data-cms-nest="link" href="/a">a</a><div data-cms-nest="dropzone-1"></div></div>`)
	n := s.nester()
	for i := 0; i < 2; i++ {
		if _, err := n.Run(context.Background(), doc, s.url("/page")); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.count("/a"); got != 2 {
		t.Errorf("requests: got %d, want 2", got)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	n := New(WithLogger(quietLogger))
	doc := mustParse(t, `<p>x</p>`)
	if _, err := n.Run(context.Background(), nil, "https://example.com/"); err == nil {
		t.Error("nil document: expected error")
	}
	for _, u := range []string{"", "/relative", "ftp://example.com/x", "https://"} {
		if _, err := n.Run(context.Background(), doc, u); err == nil {
			t.Errorf("page url %q: expected error", u)
		}
	}
}

func TestRun_NoItems(t *testing.T) {
	var completions atomic.Int32
	n := New(WithLogger(quietLogger), WithOnComplete(func() { completions.Add(1) }))
	report, err := n.Run(context.Background(), mustParse(t, `<p>plain</p>`), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 0 || completions.Load() != 1 {
		t.Errorf("items=%d completions=%d", len(report.Items), completions.Load())
	}
}

func TestScan_NoNetwork(t *testing.T) {
	s := newSite(t, map[string]string{"/a": `<div data-cms-nest="target-1">A</div>`})
	doc := mustParse(t, `
		<div data-cms-nest="item-1"><a data-cms-nest="link" href="/a">a</a><div id="dz" data-cms-nest="dropzone-1">keep</div></div>
		<div data-cms-nest="item-2"><a data-cms-nest="link" href="//evil.example/a">a</a><div data-cms-nest="dropzone-1"></div></div>`)

	items, err := s.nester().Scan(doc, s.url("/page"))
	if err != nil {
		t.Fatal(err)
	}
	if s.total() != 0 {
		t.Errorf("scan issued %d requests", s.total())
	}
	if len(items) != 2 {
		t.Fatalf("items: got %d", len(items))
	}
	if items[0].Status != outcome.StatusPlanned || items[0].URL != s.url("/a") {
		t.Errorf("item 0: %+v", items[0])
	}
	if items[1].Reason != outcome.SkipCrossOrigin {
		t.Errorf("item 1: %+v", items[1])
	}
	if got := inner(t, dropzone(t, doc, "dz")); got != "keep" {
		t.Errorf("scan mutated the document: %s", got)
	}
}
