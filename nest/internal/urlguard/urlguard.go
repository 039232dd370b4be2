// Package urlguard refuses host page URLs that point into private networks,
// so a public composition service cannot be used to reach internal hosts.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrPrivate is returned when a URL targets a private, loopback or
// link-local address.
var ErrPrivate = errors.New("urlguard: url targets a private or loopback address")

// ErrScheme is returned for anything but http and https.
var ErrScheme = errors.New("urlguard: only http and https are allowed")

// Resolver looks up host addresses. *net.Resolver implements it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates URLs against a resolver.
type Guard struct {
	resolver Resolver
}

// New creates a Guard. A nil resolver uses net.DefaultResolver.
func New(r Resolver) *Guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{resolver: r}
}

// Check rejects rawURL when its host is, or resolves to, a private address.
// A resolution failure is let through; the fetch fails on its own.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlguard: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("urlguard: url has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			return ErrPrivate
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if isPrivate(a.IP) {
			return ErrPrivate
		}
	}
	return nil
}

// CheckRedirect runs Check on every redirect hop. It fits
// http.Client.CheckRedirect and keeps the client's default limit of ten hops.
func (g *Guard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("urlguard: stopped after 10 redirects")
	}
	return g.Check(req.Context(), req.URL.String())
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
