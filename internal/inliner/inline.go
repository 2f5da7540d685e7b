// Package inliner moves stylesheet declarations into style attributes and
// finishes documents for delivery: retained blocks are embedded at the
// placeholder, the stylesheet link is removed, and the markup is minified.
package inliner

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hotovec/mails/internal/styles"
)

// DefaultPlaceholder marks where retained blocks are embedded.
const DefaultPlaceholder = "<!-- <style> -->"

var (
	documentPattern  = regexp.MustCompile(`(?i)<!doctype|<html[\s>]`)
	attrSelPattern   = regexp.MustCompile(`\[[^\]]*\]`)
	importantPattern = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)
)

type compiledSelector struct {
	sel          cascadia.Sel
	specificity  cascadia.Specificity
	order        int
	declarations []styles.Declaration
}

// Inliner applies one stylesheet to any number of documents.
type Inliner struct {
	selectors []compiledSelector
}

// New compiles the stylesheet's inlineable selectors. Selectors with
// pseudo-classes or pseudo-elements describe states a style attribute
// cannot express and are skipped, as are selectors cascadia cannot parse.
func New(sheet *styles.Stylesheet) *Inliner {
	in := &Inliner{}
	if sheet == nil {
		return in
	}
	for _, rule := range sheet.Rules {
		for _, selector := range rule.Selectors {
			if strings.Contains(attrSelPattern.ReplaceAllString(selector, ""), ":") {
				continue
			}
			sel, err := cascadia.Parse(selector)
			if err != nil {
				continue
			}
			in.selectors = append(in.selectors, compiledSelector{
				sel:          sel,
				specificity:  sel.Specificity(),
				order:        rule.Order,
				declarations: rule.Declarations,
			})
		}
	}
	return in
}

// Inline is New(sheet).Inline(doc).
func Inline(doc []byte, sheet *styles.Stylesheet) ([]byte, error) {
	return New(sheet).Inline(doc)
}

// candidate is one declaration competing for a property on an element.
type candidate struct {
	decl styles.Declaration
	// rank fields, compared in order
	important   bool
	inherited   bool
	specificity cascadia.Specificity
	order       int
	index       int
}

// outranks reports whether c beats o. Inherited declarations from the
// fragment's body lose to anything matching the element itself.
func (c candidate) outranks(o candidate) bool {
	if c.important != o.important {
		return c.important
	}
	if c.inherited != o.inherited {
		return !c.inherited
	}
	if c.specificity != o.specificity {
		return o.specificity.Less(c.specificity)
	}
	if c.order != o.order {
		return c.order > o.order
	}
	return c.index > o.index
}

// Inline merges matching declarations into every element's style
// attribute. Existing inline declarations rank above every non-important
// stylesheet declaration, so running Inline twice changes nothing.
func (in *Inliner) Inline(doc []byte) ([]byte, error) {
	if documentPattern.Match(doc) {
		root, err := html.Parse(bytes.NewReader(doc))
		if err != nil {
			return nil, err
		}
		in.apply(root, nil)

		var buf bytes.Buffer
		if err := html.Render(&buf, root); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(doc), body)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	htmlNode := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
	root.AppendChild(htmlNode)
	htmlNode.AppendChild(body)
	for _, n := range nodes {
		body.AppendChild(n)
	}

	// A fragment has no body of its own; rules aimed at html or body land
	// on its top-level elements instead.
	inherited := append(in.matching(htmlNode, true), in.matching(body, true)...)
	in.apply(body, inherited)

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// unstyled elements never render and never get a style attribute.
var unstyled = map[atom.Atom]bool{
	atom.Head: true, atom.Link: true, atom.Meta: true, atom.Style: true,
	atom.Script: true, atom.Title: true, atom.Base: true,
}

// apply styles every element under n. Direct children of n additionally
// receive the inherited candidates.
func (in *Inliner) apply(n *html.Node, inherited []candidate) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if !unstyled[c.DataAtom] {
				in.style(c, append(in.matching(c, false), inherited...))
			}
			in.apply(c, nil)
			continue
		}
		in.apply(c, nil)
	}
}

func (in *Inliner) matching(n *html.Node, inherited bool) []candidate {
	var out []candidate
	for _, cs := range in.selectors {
		if !cs.sel.Match(n) {
			continue
		}
		for i, decl := range cs.declarations {
			out = append(out, candidate{
				decl:        decl,
				important:   decl.Important,
				inherited:   inherited,
				specificity: cs.specificity,
				order:       cs.order,
				index:       i,
			})
		}
	}
	return out
}

func (in *Inliner) style(n *html.Node, candidates []candidate) {
	if len(candidates) == 0 {
		return
	}

	existing := parseStyle(attrValue(n, "style"))
	winners := make(map[string]candidate)
	for _, c := range candidates {
		if w, ok := winners[c.decl.Property]; !ok || c.outranks(w) {
			winners[c.decl.Property] = c
		}
	}

	var props []string
	values := make(map[string]string)
	for _, decl := range existing {
		props = append(props, decl.Property)
		values[decl.Property] = decl.Value
		if decl.Important {
			values[decl.Property] += "!important"
		}
		if w, ok := winners[decl.Property]; ok && w.important && !decl.Important {
			values[decl.Property] = w.decl.Value
		}
	}

	// New properties follow in cascade order.
	fresh := make([]candidate, 0, len(winners))
	for prop, w := range winners {
		if _, ok := values[prop]; !ok {
			fresh = append(fresh, w)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].decl.Property < fresh[j].decl.Property })
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[j].outranks(fresh[i]) })
	for _, w := range fresh {
		props = append(props, w.decl.Property)
		values[w.decl.Property] = w.decl.Value
	}

	parts := make([]string, 0, len(props))
	for _, prop := range props {
		parts = append(parts, prop+":"+values[prop])
	}
	setAttr(n, "style", strings.Join(parts, ";"))
}

// parseStyle splits a style attribute into declarations, last one wins
// per property.
func parseStyle(style string) []styles.Declaration {
	var out []styles.Declaration
	index := make(map[string]int)
	for _, part := range splitDeclarations(style) {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)
		if prop == "" {
			continue
		}
		decl := styles.Declaration{Property: prop, Value: value}
		if importantPattern.MatchString(value) {
			decl.Important = true
			decl.Value = strings.TrimSpace(importantPattern.ReplaceAllString(value, ""))
		}
		if i, ok := index[prop]; ok {
			out[i] = decl
			continue
		}
		index[prop] = len(out)
		out = append(out, decl)
	}
	return out
}

// splitDeclarations splits on semicolons outside quotes and parentheses.
func splitDeclarations(style string) []string {
	var out []string
	var quote byte
	depth, start := 0, 0
	for i := 0; i < len(style); i++ {
		c := style[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ';' && depth == 0:
			out = append(out, style[start:i])
			start = i + 1
		}
	}
	return append(out, style[start:])
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
