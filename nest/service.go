package nest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/kit"
	"github.com/hazyhaar/cmsnest/nest/internal/urlguard"
	"github.com/hazyhaar/cmsnest/nest/outcome"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// Loader fetches host pages. Nil uses the Nester's own HTTP loader.
	Loader Loader
	// Store serves stored runs. Nil disables the run routes.
	Store RunStore
	// Origin is the site whose pages GET /nest/* composes.
	Origin string
	// MaxBodyBytes caps API request bodies. Default: 4MB.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Service exposes composition over HTTP and MCP.
type Service struct {
	nester  *Nester
	loader  Loader
	store   RunStore
	origin  string
	maxBody int64
	guard   *urlguard.Guard
	logger  *slog.Logger

	compose kit.Endpoint
	scan    kit.Endpoint
}

// NewService creates a Service around n.
func NewService(n *Nester, cfg ServiceConfig) *Service {
	s := &Service{
		nester:  n,
		loader:  cfg.Loader,
		store:   cfg.Store,
		origin:  cfg.Origin,
		maxBody: cfg.MaxBodyBytes,
		guard:   n.guard,
		logger:  cfg.Logger,
	}
	if s.maxBody <= 0 {
		s.maxBody = 4 << 20
	}
	if s.loader == nil {
		s.loader = n.HTTPLoader()
	}
	if s.logger == nil {
		s.logger = n.logger
	}
	s.compose = kit.Chain(kit.Logging(s.logger, "nest_compose"))(s.composeEndpoint)
	s.scan = kit.Chain(kit.Logging(s.logger, "nest_scan"))(s.scanEndpoint)
	return s
}

// ComposeRequest asks for one composition pass. When HTML is empty the host
// page is loaded from PageURL.
type ComposeRequest struct {
	PageURL string `json:"page_url"`
	HTML    string `json:"html,omitempty"`
	Format  string `json:"format,omitempty"`
}

// ComposeResponse carries the composed document and its report.
type ComposeResponse struct {
	Format string          `json:"format"`
	Body   string          `json:"html"`
	Report *outcome.Report `json:"report"`
}

// ScanRequest asks for a dry run over an inline document.
type ScanRequest struct {
	PageURL string `json:"page_url"`
	HTML    string `json:"html"`
}

// ScanResponse lists what a run would do per item.
type ScanResponse struct {
	PageURL string         `json:"page_url"`
	Items   []outcome.Item `json:"items"`
}

var errBadRequest = errors.New("bad request")

// ErrPrivateURL is returned when a page, item or redirect URL targets a
// private address and the Nester was built WithBlockPrivate.
var ErrPrivateURL = urlguard.ErrPrivate

// Compose loads (or parses) the host page, runs the nesting pass and
// returns the composed document.
func (s *Service) Compose(ctx context.Context, req ComposeRequest) (*html.Node, *outcome.Report, error) {
	if _, err := parsePageURL(req.PageURL); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if s.guard != nil {
		if err := s.guard.Check(ctx, req.PageURL); err != nil {
			return nil, nil, err
		}
	}
	var (
		doc *html.Node
		err error
	)
	if req.HTML != "" {
		doc, err = ParseString(req.HTML)
	} else {
		doc, err = s.loader.Load(ctx, req.PageURL)
	}
	if err != nil {
		return nil, nil, err
	}
	report, err := s.nester.Run(ctx, doc, req.PageURL)
	if err != nil {
		return nil, nil, err
	}
	return doc, report, nil
}

func (s *Service) composeEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ComposeRequest)
	format, err := ParseFormat(r.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	doc, report, err := s.Compose(ctx, *r)
	if err != nil {
		return nil, err
	}
	body, err := RenderString(doc, format, r.PageURL)
	if err != nil {
		return nil, err
	}
	return &ComposeResponse{Format: string(format), Body: body, Report: report}, nil
}

func (s *Service) scanEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*ScanRequest)
	if r.PageURL == "" || r.HTML == "" {
		return nil, fmt.Errorf("%w: page_url and html are required", errBadRequest)
	}
	doc, err := ParseString(r.HTML)
	if err != nil {
		return nil, err
	}
	items, err := s.nester.Scan(doc, r.PageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return &ScanResponse{PageURL: r.PageURL, Items: items}, nil
}
