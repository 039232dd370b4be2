package browser

import (
	"context"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyHijack intercepts every request of the page. Requests of the listed
// resource types (images, fonts, media, stylesheets) are blocked, and when
// check is set each URL, redirect hops included, must pass it. The caller
// stops the router.
func applyHijack(ctx context.Context, page *rod.Page, types []string, check func(context.Context, string) error) *rod.HijackRouter {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if reason, deny := refuse(ctx, blockSet, check, string(h.Request.Type()), h.Request.URL().String()); deny {
			h.Response.Fail(reason)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// refuse decides whether an intercepted request is failed, and why.
func refuse(ctx context.Context, blockSet map[string]bool, check func(context.Context, string) error, resType, rawURL string) (proto.NetworkErrorReason, bool) {
	if check != nil {
		if err := check(ctx, rawURL); err != nil {
			return proto.NetworkErrorReasonAccessDenied, true
		}
	}
	if shouldBlock(blockSet, resType) {
		return proto.NetworkErrorReasonBlockedByClient, true
	}
	return "", false
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	default:
		return blockSet[lower]
	}
}
