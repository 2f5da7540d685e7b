package styles

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/hotovec/mails/internal/errors"
)

// Declaration is one property:value pair.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

func (d Declaration) String() string {
	if d.Important {
		return d.Property + ":" + d.Value + "!important"
	}
	return d.Property + ":" + d.Value
}

// Rule is a ruleset. Order is its position among the stylesheet's
// top-level rules and breaks specificity ties.
type Rule struct {
	Selectors    []string
	Declarations []Declaration
	Order        int
}

func (r *Rule) String() string {
	return strings.Join(r.Selectors, ",") + "{" + joinDeclarations(r.Declarations) + "}"
}

// AtRuleBlock is an at-rule with a block, such as @media or @font-face.
// It cannot be inlined and is carried into the document's style element.
type AtRuleBlock struct {
	Name         string
	Prelude      string
	Declarations []Declaration
	Children     []Statement
}

func (b *AtRuleBlock) String() string {
	var sb strings.Builder
	sb.WriteString(b.Name)
	if b.Prelude != "" {
		sb.WriteByte(' ')
		sb.WriteString(b.Prelude)
	}
	sb.WriteByte('{')
	sb.WriteString(joinDeclarations(b.Declarations))
	for _, child := range b.Children {
		sb.WriteString(child.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// IsMedia reports whether the block is a media query.
func (b *AtRuleBlock) IsMedia() bool {
	return b.Name == "@media"
}

// Statement is one top-level or nested item of a stylesheet. Exactly one
// field is set.
type Statement struct {
	Rule  *Rule
	Block *AtRuleBlock
	// Raw holds block-less at-rules such as @charset and @import.
	Raw string
}

func (s Statement) String() string {
	switch {
	case s.Rule != nil:
		return s.Rule.String()
	case s.Block != nil:
		return s.Block.String()
	default:
		return s.Raw + ";"
	}
}

// Stylesheet is the compiled stylesheet.
type Stylesheet struct {
	// CSS is the text written to the bundle.
	CSS string
	// Rules are the inlineable top-level rulesets in source order.
	Rules []*Rule
	// Retained are the top-level at-rule blocks in source order.
	Retained []*AtRuleBlock
	// SourceMap maps CSS back to the stylesheet sources. Purging drops it.
	SourceMap *SourceMap

	statements []Statement
}

// RetainedCSS is the text of every retained block, in order.
func (s *Stylesheet) RetainedCSS() string {
	var sb strings.Builder
	for _, block := range s.Retained {
		sb.WriteString(block.String())
	}
	return sb.String()
}

// String renders every statement in source order.
func (s *Stylesheet) String() string {
	parts := make([]string, 0, len(s.statements))
	for _, st := range s.statements {
		parts = append(parts, st.String())
	}
	return strings.Join(parts, "\n")
}

// Bundle is the text written to the stylesheet bundle: CSS followed by
// the inline source map comment, when there is a map.
func (s *Stylesheet) Bundle() ([]byte, error) {
	if s.SourceMap == nil {
		return []byte(s.CSS), nil
	}
	comment, err := s.SourceMap.InlineComment()
	if err != nil {
		return nil, err
	}
	css := s.CSS
	if css != "" && !strings.HasSuffix(css, "\n") {
		css += "\n"
	}
	return []byte(css + comment + "\n"), nil
}

// Compile expands and parses the stylesheet rooted at opts.Entry.
func Compile(ctx context.Context, opts Options) (*Stylesheet, error) {
	transpiler := opts.Transpiler
	if transpiler == nil {
		transpiler = Builtin{}
	}
	exp, err := transpiler.Transpile(ctx, opts)
	if err != nil {
		return nil, err
	}
	sheet, err := parseFile(exp.CSS, opts.Entry)
	if err != nil {
		return nil, err
	}
	sheet.SourceMap = exp.SourceMap
	return sheet, nil
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	importantPattern  = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)
)

// Parse splits plain CSS into rules and retained blocks.
func Parse(text string) (*Stylesheet, error) {
	return parseFile(text, "")
}

func parseFile(text, file string) (*Stylesheet, error) {
	p := css.NewParser(parse.NewInputString(text), false)
	sheet := &Stylesheet{CSS: text}

	var (
		stack     []*AtRuleBlock
		rule      *Rule
		selectors []string
		order     int
	)

	appendStatement := func(st Statement) {
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.Children = append(top.Children, st)
			return
		}
		sheet.statements = append(sheet.statements, st)
	}

	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			err := p.Err()
			if err == io.EOF {
				return sheet, nil
			}
			if err != nil {
				return nil, errors.NewSyntaxError(file, 0, err.Error())
			}
		case css.QualifiedRuleGrammar:
			selectors = append(selectors, tokens(p.Values()))
		case css.BeginRulesetGrammar:
			selectors = append(selectors, tokens(p.Values()))
			rule = &Rule{Selectors: selectors}
			selectors = nil
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			decl := declaration(string(data), tokens(p.Values()))
			switch {
			case rule != nil:
				rule.Declarations = append(rule.Declarations, decl)
			case len(stack) > 0:
				top := stack[len(stack)-1]
				top.Declarations = append(top.Declarations, decl)
			}
		case css.EndRulesetGrammar:
			if rule == nil {
				continue
			}
			if len(stack) == 0 {
				rule.Order = order
				order++
				sheet.Rules = append(sheet.Rules, rule)
			}
			appendStatement(Statement{Rule: rule})
			rule = nil
		case css.BeginAtRuleGrammar:
			stack = append(stack, &AtRuleBlock{
				Name:    strings.ToLower(string(data)),
				Prelude: tokens(p.Values()),
			})
		case css.EndAtRuleGrammar:
			if len(stack) == 0 {
				continue
			}
			block := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				sheet.Retained = append(sheet.Retained, block)
			}
			appendStatement(Statement{Block: block})
		case css.AtRuleGrammar:
			if rule == nil && len(stack) == 0 {
				raw := strings.ToLower(string(data))
				if prelude := tokens(p.Values()); prelude != "" {
					raw += " " + prelude
				}
				sheet.statements = append(sheet.statements, Statement{Raw: raw})
			}
		}
	}
}

func tokens(values []css.Token) string {
	var sb strings.Builder
	for _, v := range values {
		sb.Write(v.Data)
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(sb.String(), " "))
}

func declaration(property, value string) Declaration {
	property = strings.TrimSpace(property)
	if !strings.HasPrefix(property, "--") {
		property = strings.ToLower(property)
	}
	d := Declaration{Property: property}
	if importantPattern.MatchString(value) {
		d.Important = true
		value = importantPattern.ReplaceAllString(value, "")
	}
	d.Value = strings.TrimSpace(value)
	return d
}

func joinDeclarations(decls []Declaration) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, ";")
}
