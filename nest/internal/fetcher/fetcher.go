// Package fetcher performs the timed GET behind every nest item.
//
// The deadline only covers the wait for response headers: once headers are
// in, the abort timer is stopped and the body can be read at its own pace.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds the wait for response headers.
const DefaultTimeout = 5000 * time.Millisecond

// ErrTimeout is returned when the header deadline elapsed before the
// response arrived. A cancellation coming from the caller's context is
// reported as-is, never as ErrTimeout.
var ErrTimeout = errors.New("request timed out")

// ErrTooLarge is returned by ReadBody when the body exceeds the size cap.
var ErrTooLarge = errors.New("fetcher: body exceeds size limit")

// Fetcher issues GET requests with a header deadline.
type Fetcher struct {
	client        *http.Client
	ua            string
	maxBytes      int64
	checkRedirect func(*http.Request, []*http.Request) error
	logger        *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client. Its Timeout, if any, applies on top
// of the per-request deadline.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header. Empty keeps the default.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.ua = ua
		}
	}
}

// WithMaxBytes caps how much of a body ReadBody keeps. Default: 10MB.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithCheckRedirect vets every redirect hop. It is installed on a copy of
// the client, so a client shared with other code is left untouched.
func WithCheckRedirect(fn func(req *http.Request, via []*http.Request) error) Option {
	return func(f *Fetcher) { f.checkRedirect = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{},
		ua:       "Mozilla/5.0 (compatible; cmsnest/1.0)",
		maxBytes: 10 << 20,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.checkRedirect != nil {
		c := *f.client
		c.CheckRedirect = f.checkRedirect
		f.client = &c
	}
	return f
}

// RequestOption adjusts an outgoing request before it is sent.
type RequestOption func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// Fetch GETs rawURL. If the response headers have not arrived after timeout
// (DefaultTimeout when timeout <= 0) the request is aborted and ErrTimeout
// returned. The abort timer is stopped on every path.
//
// Any status code is a successful fetch; the caller decides what to accept
// and must close the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration, opts ...RequestOption) (*http.Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	for _, o := range opts {
		o(req)
	}

	var expired atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		expired.Store(true)
		cancel()
	})

	start := time.Now()
	resp, err := f.client.Do(req)
	stopped := timer.Stop()

	if err == nil && !stopped {
		// The deadline fired after Do returned; the body is already cancelled.
		resp.Body.Close()
		cancel()
		f.logger.Debug("fetcher: deadline reached", "url", rawURL, "timeout", timeout)
		return nil, ErrTimeout
	}
	if err != nil {
		cancel()
		if expired.Load() {
			f.logger.Debug("fetcher: deadline reached", "url", rawURL, "timeout", timeout)
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("fetcher: get %s: %w", rawURL, err)
	}

	f.logger.Debug("fetcher: headers received",
		"url", rawURL, "status", resp.StatusCode, "elapsed", time.Since(start))

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// ReadBody reads resp and closes it. Bodies longer than the configured cap
// fail with ErrTooLarge.
func (f *Fetcher) ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		url := ""
		if resp.Request != nil {
			url = resp.Request.URL.String()
		}
		f.logger.Warn("fetcher: body too large", "url", url, "max_bytes", f.maxBytes)
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	return body, nil
}

// cancelOnClose releases the request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
