// Package shield provides the HTTP middleware placed in front of the
// composition service: response hardening, request body limits, HEAD
// support and per-request access logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger, shield.DefaultHeaders(), 1<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// Stack returns the service middleware in order:
// HeadToGet → SecurityHeaders → MaxBody → AccessLog.
func Stack(logger *slog.Logger, headers HeaderConfig, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(headers),
		MaxBody(maxBody),
		AccessLog(logger),
	}
}
