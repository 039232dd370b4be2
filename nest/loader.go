package nest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/nest/internal/browser"
	"github.com/hazyhaar/cmsnest/nest/internal/urlguard"
)

// Loader produces the host document for a page URL.
type Loader interface {
	Load(ctx context.Context, pageURL string) (*html.Node, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, pageURL string) (*html.Node, error)

func (f LoaderFunc) Load(ctx context.Context, pageURL string) (*html.Node, error) {
	return f(ctx, pageURL)
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("nest: parse document: %w", err)
	}
	return doc, nil
}

// ParseString parses an HTML document held in s.
func ParseString(s string) (*html.Node, error) {
	return Parse(strings.NewReader(s))
}

// LoadFile reads and parses a local HTML file.
func LoadFile(path string) (*html.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nest: load file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// LoadURL fetches and parses the host page with the item fetcher, under
// the same header deadline.
func (n *Nester) LoadURL(ctx context.Context, pageURL string) (*html.Node, error) {
	if _, err := parsePageURL(pageURL); err != nil {
		return nil, err
	}
	doc, _, err := n.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("nest: load %s: %w", pageURL, err)
	}
	return doc, nil
}

// HTTPLoader returns a Loader backed by LoadURL.
func (n *Nester) HTTPLoader() Loader {
	return LoaderFunc(n.LoadURL)
}

// BrowserLoader renders host pages in headless Chrome, for sites whose
// markers are produced by client-side scripts.
type BrowserLoader struct {
	mgr   *browser.Manager
	guard *urlguard.Guard
}

// NewBrowserLoader creates a BrowserLoader. Chrome starts on first Load.
// With blockPrivate every request of the page, redirects included, is
// refused when it targets a private address.
func NewBrowserLoader(cfg BrowserConfig, logger *slog.Logger, blockPrivate bool) *BrowserLoader {
	bl := &BrowserLoader{}
	bcfg := browser.Config{
		RemoteURL:        cfg.Remote,
		Stealth:          cfg.Stealth,
		ResourceBlocking: cfg.ResourceBlocking,
		NavigateTimeout:  cfg.NavigateTimeout,
		Logger:           logger,
	}
	if blockPrivate {
		bl.guard = urlguard.New(nil)
		bcfg.CheckURL = bl.guard.Check
	}
	bl.mgr = browser.NewManager(bcfg)
	return bl
}

// Load navigates to pageURL and parses the rendered document.
func (b *BrowserLoader) Load(ctx context.Context, pageURL string) (*html.Node, error) {
	if _, err := parsePageURL(pageURL); err != nil {
		return nil, err
	}
	if b.guard != nil {
		if err := b.guard.Check(ctx, pageURL); err != nil {
			return nil, err
		}
	}
	raw, err := b.mgr.Render(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(raw))
}

// Close shuts Chrome down.
func (b *BrowserLoader) Close() error {
	return b.mgr.Close()
}
