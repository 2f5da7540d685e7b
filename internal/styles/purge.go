package styles

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var pseudoPattern = regexp.MustCompile(`^::?[A-Za-z-]+(\([^)]*\))?`)

// stripPseudos drops pseudo-classes and pseudo-elements from selector.
// Colons inside attribute selectors and quoted strings are left alone.
func stripPseudos(selector string) string {
	var b strings.Builder
	depth := 0
	var quote byte
	for i := 0; i < len(selector); i++ {
		c := selector[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(selector) {
				b.WriteByte(c)
				i++
				c = selector[i]
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case c == ':' && depth == 0:
			if loc := pseudoPattern.FindStringIndex(selector[i:]); loc != nil {
				i += loc[1] - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Matcher answers whether a selector matches any element of a document
// set. Parsed documents and selectors are memoized.
type Matcher struct {
	docs  []*html.Node
	cache map[string]bool
}

// NewMatcher parses the documents once. Unparseable markup is parsed
// best-effort like a browser would.
func NewMatcher(docs [][]byte) *Matcher {
	m := &Matcher{cache: make(map[string]bool)}
	for _, doc := range docs {
		root, err := html.Parse(bytes.NewReader(doc))
		if err != nil {
			continue
		}
		m.docs = append(m.docs, root)
	}
	return m
}

// Matches reports whether selector could match an element. Pseudo-classes
// and pseudo-elements are dropped before matching, and selectors that do
// not parse are assumed to match.
func (m *Matcher) Matches(selector string) bool {
	if hit, ok := m.cache[selector]; ok {
		return hit
	}

	stripped := strings.TrimSpace(stripPseudos(selector))
	hit := true
	if stripped != "" {
		if sel, err := cascadia.Parse(stripped); err == nil {
			hit = false
			for _, doc := range m.docs {
				if cascadia.Query(doc, sel) != nil {
					hit = true
					break
				}
			}
		}
	}

	m.cache[selector] = hit
	return hit
}

// Purge returns a copy of sheet without the rules that match no element
// in docs. Rules inside media blocks are tested the same way; media blocks
// left empty are dropped. Other at-rule blocks are kept whole.
func Purge(sheet *Stylesheet, docs [][]byte) *Stylesheet {
	m := NewMatcher(docs)
	out := &Stylesheet{}

	for _, st := range sheet.statements {
		kept, ok := purgeStatement(m, st)
		if !ok {
			continue
		}
		out.statements = append(out.statements, kept)
		switch {
		case kept.Rule != nil:
			out.Rules = append(out.Rules, kept.Rule)
		case kept.Block != nil:
			out.Retained = append(out.Retained, kept.Block)
		}
	}

	out.CSS = out.String()
	return out
}

func purgeStatement(m *Matcher, st Statement) (Statement, bool) {
	switch {
	case st.Rule != nil:
		for _, sel := range st.Rule.Selectors {
			if m.Matches(sel) {
				return st, true
			}
		}
		return st, false
	case st.Block != nil && st.Block.IsMedia():
		block := *st.Block
		block.Children = nil
		for _, child := range st.Block.Children {
			if kept, ok := purgeStatement(m, child); ok {
				block.Children = append(block.Children, kept)
			}
		}
		if len(block.Children) == 0 && len(block.Declarations) == 0 {
			return st, false
		}
		return Statement{Block: &block}, true
	default:
		return st, true
	}
}
