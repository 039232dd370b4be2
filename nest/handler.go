package nest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/cmsnest/kit"
	"github.com/hazyhaar/cmsnest/shield"
)

// Handler returns the HTTP surface of the service:
//
//	GET  /health
//	GET  /nest/*            composed page from the configured origin
//	POST /api/nest          JSON report of one pass
//	POST /api/scan          dry run over inline markup
//	GET  /api/runs          stored runs, newest first (store only)
//	GET  /api/runs/{runID}  one stored report (store only)
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(s.logger, shield.DefaultHeaders(), s.maxBody) {
		r.Use(mw)
	}
	r.Use(s.withKitContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/nest/*", s.handlePage)
	r.Post("/api/nest", s.handleCompose)
	r.Post("/api/scan", s.handleScan)
	if s.store != nil {
		r.Route("/api/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
		})
	}
	return r
}

func (s *Service) withKitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handlePage composes <origin>/<path> and serves it as a page.
func (s *Service) handlePage(w http.ResponseWriter, r *http.Request) {
	if s.origin == "" {
		writeError(w, http.StatusNotFound, errors.New("no origin configured"))
		return
	}
	q := r.URL.Query()
	format, err := ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Del("format")

	pageURL := strings.TrimRight(s.origin, "/") + "/" + chi.URLParam(r, "*")
	if enc := q.Encode(); enc != "" {
		pageURL += "?" + enc
	}

	doc, report, err := s.Compose(r.Context(), ComposeRequest{PageURL: pageURL})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("X-Nest-Run", report.RunID)
	switch format {
	case FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	if err := Render(w, doc, format, pageURL); err != nil {
		s.logger.Error("nest: write page", "url", pageURL, "error", err)
	}
}

func (s *Service) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	resp, err := s.compose(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	cr := resp.(*ComposeResponse)
	w.Header().Set("X-Nest-Run", cr.Report.RunID)
	writeJSON(w, http.StatusOK, cr.Report)
}

func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	resp, err := s.scan(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := s.store.GetReport(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", runID))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPrivateURL):
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
