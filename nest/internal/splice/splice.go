// Package splice moves fetched fragments into dropzones.
package splice

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/cmsnest/nest/internal/marker"
)

// Replace removes every child of dst and appends nodes in order. A node
// that already has a parent is detached first, so a fragment taken from a
// fetched document is moved, not copied.
func Replace(dst *html.Node, nodes ...*html.Node) {
	for c := dst.FirstChild; c != nil; {
		next := c.NextSibling
		dst.RemoveChild(c)
		c = next
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		dst.AppendChild(n)
	}
}

// Sanitizer cleans a fragment through a bluemonday policy before it is
// inserted. Sanitised insertion copies: the fragment is rendered, cleaned
// and re-parsed in the dropzone's context.
type Sanitizer struct {
	policy *bluemonday.Policy
}

var (
	defaultPolicyOnce sync.Once
	defaultPolicy     *bluemonday.Policy
)

// NewSanitizer returns a Sanitizer using the UGC policy, extended to keep
// the marker attribute and id/class on every element.
func NewSanitizer() *Sanitizer {
	defaultPolicyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs(marker.Attr, "id", "class").Globally()
		defaultPolicy = p
	})
	return &Sanitizer{policy: defaultPolicy}
}

// NewSanitizerWithPolicy wraps a caller-provided policy.
func NewSanitizerWithPolicy(p *bluemonday.Policy) *Sanitizer {
	return &Sanitizer{policy: p}
}

// Clean renders src, sanitises it and parses the result as children of
// dst. The returned nodes are detached and ready for Replace.
func (s *Sanitizer) Clean(dst, src *html.Node) ([]*html.Node, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, src); err != nil {
		return nil, fmt.Errorf("splice: render fragment: %w", err)
	}
	cleaned := s.policy.SanitizeBytes(buf.Bytes())

	nodes, err := html.ParseFragment(bytes.NewReader(cleaned), dst)
	if err != nil {
		return nil, fmt.Errorf("splice: parse sanitised fragment: %w", err)
	}
	return nodes, nil
}
