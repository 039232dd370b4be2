// Package marker classifies elements carrying the data-cms-nest attribute.
//
// The attribute value is parsed once per element into a Role:
//
//	item...      nest item root
//	link         hyperlink holding the href to fetch
//	dropzone-<s> insertion slot s inside an item
//	target-<s>   replacement content for slot s in a fetched page
package marker

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Attr is the marker attribute shared by every role.
const Attr = "data-cms-nest"

const (
	itemPrefix     = "item"
	linkValue      = "link"
	dropzonePrefix = "dropzone-"
	targetPrefix   = "target-"
)

// Kind is the role an element plays in nesting.
type Kind uint8

const (
	KindNone Kind = iota
	KindItem
	KindLink
	KindDropzone
	KindTarget
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindLink:
		return "link"
	case KindDropzone:
		return "dropzone"
	case KindTarget:
		return "target"
	}
	return "none"
}

// Role is a parsed marker value.
type Role struct {
	Kind  Kind
	Value string // raw attribute value
	Slot  string // dropzone and target only: everything after the first "-"
}

// Parse classifies a raw marker value.
func Parse(value string) Role {
	r := Role{Value: value}
	switch {
	case strings.HasPrefix(value, itemPrefix):
		r.Kind = KindItem
	case value == linkValue:
		r.Kind = KindLink
	case strings.HasPrefix(value, dropzonePrefix):
		r.Kind = KindDropzone
		r.Slot = value[len(dropzonePrefix):]
	case strings.HasPrefix(value, targetPrefix):
		r.Kind = KindTarget
		r.Slot = value[len(targetPrefix):]
	}
	return r
}

// Classify parses the marker of n; unmarked nodes are KindNone.
func Classify(n *html.Node) Role {
	if n == nil || n.Type != html.ElementNode {
		return Role{}
	}
	return Parse(htmlquery.SelectAttr(n, Attr))
}

// TargetValue is the marker value a fetched element needs to fill slot.
func TargetValue(slot string) string { return targetPrefix + slot }

// Element is a marked node with its role.
type Element struct {
	Node *html.Node
	Role Role
}

// Scan returns every marked element under root in document order,
// classified once.
func Scan(root *html.Node) []Element {
	if root == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(root, "//*[@"+Attr+"]")
	if err != nil {
		// The expression is constant; an error here is a programming bug.
		panic("marker: " + err.Error())
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		role := Classify(n)
		if role.Kind == KindNone {
			continue
		}
		out = append(out, Element{Node: n, Role: role})
	}
	return out
}

// Filter keeps the elements of the given kind.
func Filter(elems []Element, kind Kind) []Element {
	var out []Element
	for _, e := range elems {
		if e.Role.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Within keeps the elements that are strict descendants of root.
func Within(root *html.Node, elems []Element) []Element {
	var out []Element
	for _, e := range elems {
		if isDescendant(root, e.Node) {
			out = append(out, e)
		}
	}
	return out
}

// First returns the first element of the given kind.
func First(elems []Element, kind Kind) (Element, bool) {
	for _, e := range elems {
		if e.Role.Kind == kind {
			return e, true
		}
	}
	return Element{}, false
}

// Targets indexes the target fragments of a fetched document by slot, each
// slot listing its elements in document order.
func Targets(doc *html.Node) map[string][]*html.Node {
	targets := make(map[string][]*html.Node)
	for _, e := range Filter(Scan(doc), KindTarget) {
		targets[e.Role.Slot] = append(targets[e.Role.Slot], e.Node)
	}
	return targets
}

// Href returns the href attribute of n, or "" when absent.
func Href(n *html.Node) string {
	return htmlquery.SelectAttr(n, "href")
}

func isDescendant(root, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}
