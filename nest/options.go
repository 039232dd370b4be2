package nest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/cmsnest/nest/internal/fetcher"
	"github.com/hazyhaar/cmsnest/nest/internal/sink"
	"github.com/hazyhaar/cmsnest/nest/internal/splice"
	"github.com/hazyhaar/cmsnest/nest/internal/urlguard"
)

// settings collects construction-only values.
type settings struct {
	sinks     []sink.Sink
	fetchOpts []fetcher.Option
}

// Option configures a Nester.
type Option func(*Nester, *settings)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Nester, _ *settings) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithTimeout sets the per-fetch header deadline. Values <= 0 keep
// DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Nester, _ *settings) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithHTTPClient sets the client used for item fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(_ *Nester, s *settings) {
		s.fetchOpts = append(s.fetchOpts, fetcher.WithClient(c))
	}
}

// WithUserAgent sets the User-Agent of item fetches.
func WithUserAgent(ua string) Option {
	return func(_ *Nester, s *settings) {
		s.fetchOpts = append(s.fetchOpts, fetcher.WithUserAgent(ua))
	}
}

// WithMaxBytes caps how much of a fetched page is read.
func WithMaxBytes(limit int64) Option {
	return func(_ *Nester, s *settings) {
		s.fetchOpts = append(s.fetchOpts, fetcher.WithMaxBytes(limit))
	}
}

// WithHeader adds a header to every item request.
func WithHeader(key, value string) Option {
	return func(n *Nester, _ *settings) {
		n.reqOpts = append(n.reqOpts, fetcher.WithHeader(key, value))
	}
}

// WithSanitize enables fragment sanitisation. Targets are then copied
// through a bluemonday policy instead of moved.
func WithSanitize(on bool) Option {
	return func(n *Nester, _ *settings) {
		if on {
			n.sanitizer = splice.NewSanitizer()
		} else {
			n.sanitizer = nil
		}
	}
}

// WithOnComplete registers a hook called once per Run after every item
// settled.
func WithOnComplete(fn func()) Option {
	return func(n *Nester, _ *settings) {
		if fn != nil {
			n.onComplete = append(n.onComplete, fn)
		}
	}
}

// WithSinks adds output backends for outcomes, completions and reports.
func WithSinks(sinks ...Sink) Option {
	return func(_ *Nester, s *settings) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithBlockPrivate refuses fetches of URLs on private, loopback or
// link-local addresses. The check runs before every page and item fetch and
// again on each redirect hop.
func WithBlockPrivate(on bool) Option {
	return func(n *Nester, _ *settings) {
		if on {
			n.guard = urlguard.New(nil)
		} else {
			n.guard = nil
		}
	}
}

// withGuard installs a guard with a custom resolver (tests).
func withGuard(g *urlguard.Guard) Option {
	return func(n *Nester, _ *settings) { n.guard = g }
}

// withRunID overrides the run id generator (tests).
func withRunID(fn func() string) Option {
	return func(n *Nester, _ *settings) { n.newID = fn }
}
