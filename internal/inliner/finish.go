package inliner

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	minhtml "github.com/tdewolff/minify/v2/html"

	"github.com/hotovec/mails/internal/styles"
)

var (
	linkPattern = regexp.MustCompile(`(?is)<link\b[^>]*>\s*`)
	relPattern  = attrPattern("rel")
	hrefPattern = attrPattern("href")
)

func attrPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\s` + key + `\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+))`)
}

// EmbedRetained replaces the first placeholder with a style element
// holding retainedCSS. Without a placeholder the document is returned
// unchanged. An empty retainedCSS removes the placeholder.
func EmbedRetained(doc []byte, retainedCSS, placeholder string) []byte {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if !bytes.Contains(doc, []byte(placeholder)) {
		return doc
	}

	replacement := ""
	if retainedCSS != "" {
		replacement = "<style>" + retainedCSS + "</style>"
	}
	return bytes.Replace(doc, []byte(placeholder), []byte(replacement), 1)
}

// StripStylesheetLink removes stylesheet links pointing at href. Relative
// prefixes such as ../ are ignored when comparing.
func StripStylesheetLink(doc []byte, href string) []byte {
	return linkPattern.ReplaceAllFunc(doc, func(tag []byte) []byte {
		rel, _ := tagAttr(tag, relPattern)
		if !strings.EqualFold(rel, "stylesheet") {
			return tag
		}
		target, ok := tagAttr(tag, hrefPattern)
		if !ok {
			return tag
		}
		target = strings.TrimLeft(target, "./")
		if target == strings.TrimLeft(href, "./") {
			return nil
		}
		return tag
	})
}

func tagAttr(tag []byte, pattern *regexp.Regexp) (string, bool) {
	m := pattern.FindSubmatch(tag)
	if m == nil {
		return "", false
	}
	for _, v := range m[2:] {
		if v != nil {
			return string(v), true
		}
	}
	return "", true
}

// Minifier collapses whitespace in markup and minifies embedded CSS.
type Minifier struct {
	m *minify.M
}

// NewMinifier configures the HTML and CSS minifiers. Quotes, end tags,
// document tags, default attribute values and comments are kept because
// mail clients are less forgiving than browsers.
func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &minhtml.Minifier{
		KeepComments:        true,
		KeepDefaultAttrVals: true,
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
	})
	return &Minifier{m: m}
}

// Minify minifies one document.
func (mf *Minifier) Minify(doc []byte) ([]byte, error) {
	out, err := mf.m.Bytes("text/html", doc)
	if err != nil {
		return nil, fmt.Errorf("minify: %w", err)
	}
	return out, nil
}

// Options configure Process.
type Options struct {
	Placeholder    string
	StylesheetHref string
}

// Pipeline runs the finishing stages in their fixed order: inline, strip
// the stylesheet link, minify, then embed retained blocks. The retained
// CSS is embedded after minification so it reaches the document verbatim.
type Pipeline struct {
	inliner  *Inliner
	retained string
	minifier *Minifier
	opts     Options
}

// NewPipeline prepares the stages for one stylesheet.
func NewPipeline(sheet *styles.Stylesheet, opts Options) *Pipeline {
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	retained := ""
	if sheet != nil {
		retained = sheet.RetainedCSS()
	}
	return &Pipeline{
		inliner:  New(sheet),
		retained: retained,
		minifier: NewMinifier(),
		opts:     opts,
	}
}

// Process runs every stage over doc. The placeholder comment survives
// minification because comments are kept.
func (p *Pipeline) Process(doc []byte) ([]byte, error) {
	out, err := p.inliner.Inline(doc)
	if err != nil {
		return nil, fmt.Errorf("inline: %w", err)
	}
	if p.opts.StylesheetHref != "" {
		out = StripStylesheetLink(out, p.opts.StylesheetHref)
	}
	out, err = p.minifier.Minify(out)
	if err != nil {
		return nil, err
	}
	return EmbedRetained(out, p.retained, p.opts.Placeholder), nil
}
