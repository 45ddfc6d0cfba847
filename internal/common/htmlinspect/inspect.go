package htmlinspect

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Selector matches elements of the form tag, tag[attr] or tag[attr='value'].
// This covers the completion-marker selectors the service is configured
// with; it is not a general CSS engine.
type Selector struct {
	Tag   string
	Attr  string
	Value string
}

var selectorRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*)(?:\[([a-zA-Z][a-zA-Z0-9_-]*)(?:=(?:'([^']*)'|"([^"]*)"))?\])?$`)

// ParseSelector parses a marker selector string.
func ParseSelector(s string) (Selector, error) {
	matches := selectorRe.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Selector{}, fmt.Errorf("invalid selector %q: expected tag, tag[attr] or tag[attr='value']", s)
	}

	sel := Selector{
		Tag:  strings.ToLower(matches[1]),
		Attr: strings.ToLower(matches[2]),
	}
	if matches[3] != "" {
		sel.Value = matches[3]
	} else {
		sel.Value = matches[4]
	}
	return sel, nil
}

// String reassembles the selector in its canonical single-quoted form.
func (s Selector) String() string {
	if s.Attr == "" {
		return s.Tag
	}
	if s.Value == "" {
		return fmt.Sprintf("%s[%s]", s.Tag, s.Attr)
	}
	return fmt.Sprintf("%s[%s='%s']", s.Tag, s.Attr, s.Value)
}

// matches reports whether the node satisfies the selector.
func (s Selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode || strings.ToLower(n.Data) != s.Tag {
		return false
	}
	if s.Attr == "" {
		return true
	}

	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) != s.Attr {
			continue
		}
		return s.Value == "" || attr.Val == s.Value
	}
	return false
}

// HasMarker reports whether the document contains an element matching the
// completion-marker selector. Parse failures count as marker absent.
func HasMarker(htmlBytes []byte, sel Selector) bool {
	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return false
	}
	return findMatch(root, sel) != nil
}

// findMatch walks the tree depth-first for the first matching element.
func findMatch(node *html.Node, sel Selector) *html.Node {
	if sel.matches(node) {
		return node
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if found := findMatch(c, sel); found != nil {
			return found
		}
	}
	return nil
}

// StripScripts removes script elements from the document and re-renders it.
// Structured-data scripts (type="application/ld+json") are kept: they are
// content the crawlers consume, not executable code. Parse or render
// failures return the input unchanged.
func StripScripts(htmlBytes []byte) []byte {
	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return htmlBytes
	}

	removeScripts(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return htmlBytes
	}
	return buf.Bytes()
}

func removeScripts(node *html.Node) {
	var next *html.Node
	for c := node.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if isStrippableScript(c) {
			node.RemoveChild(c)
			continue
		}
		removeScripts(c)
	}
}

func isStrippableScript(n *html.Node) bool {
	if n.Type != html.ElementNode || strings.ToLower(n.Data) != "script" {
		return false
	}
	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) == "type" &&
			strings.EqualFold(strings.TrimSpace(attr.Val), "application/ld+json") {
			return false
		}
	}
	return true
}
