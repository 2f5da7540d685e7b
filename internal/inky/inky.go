// Package inky expands the email component vocabulary (container, row,
// columns, button, ...) into the nested table markup mail clients render.
package inky

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ColumnCount is the width of the grid in columns.
const ColumnCount = 12

var documentPattern = regexp.MustCompile(`(?i)<!doctype|<html[\s>]`)

// Normalize expands component tags in markup. It never fails: markup the
// parser cannot make sense of is rendered as the parser recovered it.
// Full documents stay documents and fragments stay fragments. Markup
// without component tags is returned unchanged.
func Normalize(markup []byte) []byte {
	if !hasComponents(markup) {
		return markup
	}
	return restoreNbsp(render(markup))
}

// hasComponents reports whether any start tag in markup names a component.
func hasComponents(markup []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if _, ok := components[string(name)]; ok {
				return true
			}
		}
	}
}

// restoreNbsp writes non-breaking spaces back as entities. The parser
// decodes &nbsp; and the renderer emits the raw character, which some mail
// clients mangle.
func restoreNbsp(markup []byte) []byte {
	return bytes.ReplaceAll(markup, []byte("\u00a0"), []byte("&nbsp;"))
}

func render(markup []byte) []byte {
	if documentPattern.Match(markup) {
		doc, err := html.Parse(bytes.NewReader(markup))
		if err != nil {
			return markup
		}
		expand(doc)

		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return markup
		}
		return buf.Bytes()
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(markup), body)
	if err != nil {
		return markup
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	expand(body)

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return markup
		}
	}
	return buf.Bytes()
}

// columnInfo is what a column needs to know about its siblings, captured
// before any sibling is rewritten.
type columnInfo struct {
	index, count int
	nestedRow    bool
}

type expander struct {
	columns map[*html.Node]columnInfo
}

func expand(root *html.Node) {
	e := &expander{columns: make(map[*html.Node]columnInfo)}
	e.scanColumns(root)
	e.walk(root)
}

func (e *expander) scanColumns(n *html.Node) {
	var cols []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "columns") {
			cols = append(cols, c)
		}
		e.scanColumns(c)
	}
	for i, c := range cols {
		e.columns[c] = columnInfo{index: i, count: len(cols), nestedRow: hasDescendant(c, "row")}
	}
}

// walk rewrites children before their parent so every component sees
// already expanded content.
func (e *expander) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		e.walk(c)
		if c.Type == html.ElementNode {
			if build, ok := components[c.Data]; ok {
				replace(c, build(e, c)...)
			}
		}
		c = next
	}
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func hasDescendant(n *html.Node, tag string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, tag) || hasDescendant(c, tag) {
			return true
		}
	}
	return false
}

// replace swaps old for nodes, keeping old's children inside whatever the
// builder moved them into.
func replace(old *html.Node, nodes ...*html.Node) {
	parent := old.Parent
	for _, n := range nodes {
		parent.InsertBefore(n, old)
	}
	parent.RemoveChild(old)
}

func element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

func attr(key, val string) html.Attribute {
	return html.Attribute{Key: key, Val: val}
}

// nest builds a chain of elements and returns the outermost and innermost.
func nest(outer *html.Node, tags ...string) (*html.Node, *html.Node) {
	inner := outer
	for _, tag := range tags {
		child := element(tag)
		inner.AppendChild(child)
		inner = child
	}
	return outer, inner
}

func moveChildren(from, to *html.Node) {
	for c := from.FirstChild; c != nil; {
		next := c.NextSibling
		from.RemoveChild(c)
		to.AppendChild(c)
		c = next
	}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// passthrough returns the attributes of n except class and the keys listed.
func passthrough(n *html.Node, skip ...string) []html.Attribute {
	out := make([]html.Attribute, 0, len(n.Attr))
outer:
	for _, a := range n.Attr {
		if a.Key == "class" {
			continue
		}
		for _, s := range skip {
			if a.Key == s {
				continue outer
			}
		}
		out = append(out, a)
	}
	return out
}

// classes joins non-empty class lists.
func classes(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func hasClass(n *html.Node, name string) bool {
	class, _ := getAttr(n, "class")
	for _, c := range strings.Fields(class) {
		if c == name {
			return true
		}
	}
	return false
}

func nbsp() *html.Node {
	return &html.Node{Type: html.RawNode, Data: "&nbsp;"}
}
