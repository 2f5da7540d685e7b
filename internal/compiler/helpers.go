package compiler

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/source"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
}

// funcs returns the helper functions bound to one page. Parsing uses the
// same map with an empty page name.
func (c *Compiler) funcs(page string) htmltemplate.FuncMap {
	matches := func(names []string) bool {
		for _, name := range names {
			if name == page {
				return true
			}
		}
		return false
	}

	return htmltemplate.FuncMap{
		"title": func(s string) string {
			// Casers carry state and are not shared across goroutines.
			return cases.Title(language.English).String(s)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"raw": func(s string) htmltemplate.HTML {
			return htmltemplate.HTML(s)
		},
		"markdown": func(s string) (htmltemplate.HTML, error) {
			var buf bytes.Buffer
			if err := c.markdown.Convert([]byte(s), &buf); err != nil {
				return "", err
			}
			return htmltemplate.HTML(buf.String()), nil
		},
		"ifpage": func(names ...string) bool {
			return matches(names)
		},
		"unlesspage": func(names ...string) bool {
			return !matches(names)
		},
		"repeat": func(n int) []int {
			if n < 0 {
				n = 0
			}
			out := make([]int, n)
			for i := range out {
				out[i] = i
			}
			return out
		},
	}
}

// loadHelperData decodes every helpers file into one map keyed by the
// file's logical name. JSON is a subset of YAML so one decoder covers both.
func loadHelperData(tree *source.Tree) (map[string]any, error) {
	data := make(map[string]any)
	for _, f := range tree.Files(source.Helpers) {
		var value any
		if err := yaml.Unmarshal(f.Content, &value); err != nil {
			return nil, errors.NewSyntaxError(
				fmt.Sprintf("%s/%s", source.Helpers, f.Path), 0, err.Error())
		}
		data[f.Name()] = value
	}
	return data, nil
}

// rootPrefix is the relative path from a page's output back to the root of
// the destination tree.
func rootPrefix(pagePath string) string {
	depth := strings.Count(pagePath, "/")
	return strings.Repeat("../", depth)
}

var (
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	actionPattern  = regexp.MustCompile(`(?s)\{\{.*?\}\}`)
)

// preserveComments rewrites HTML comments into raw actions. html/template
// drops comments from template text, which would lose conditional comments
// and the style placeholder. Actions inside a comment keep working.
func preserveComments(src string) string {
	return commentPattern.ReplaceAllStringFunc(src, func(comment string) string {
		var b strings.Builder
		last := 0
		for _, loc := range actionPattern.FindAllStringIndex(comment, -1) {
			writeRaw(&b, comment[last:loc[0]])
			b.WriteString(comment[loc[0]:loc[1]])
			last = loc[1]
		}
		writeRaw(&b, comment[last:])
		return b.String()
	})
}

// writeRaw emits text as a raw action. A trailing template comment holds
// the newlines the quoted string swallowed, so template line numbers still
// match the page source.
func writeRaw(b *strings.Builder, text string) {
	if text == "" {
		return
	}
	b.WriteString(`{{raw `)
	b.WriteString(strconv.Quote(text))
	b.WriteString(`}}`)
	if n := strings.Count(text, "\n"); n > 0 {
		b.WriteString("{{/*" + strings.Repeat("\n", n) + "*/}}")
	}
}

var bodyLinePattern = regexp.MustCompile(`template: ` + bodyTemplate + `:(\d+):`)

// withBodyLocation points a template error at the page file and line when
// the error comes from the page body. Front matter lines are counted in.
func withBodyLocation(err *errors.BuildError, page *source.File, body []byte) *errors.BuildError {
	m := bodyLinePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}
	offset := bytes.Count(page.Content, []byte("\n")) - bytes.Count(body, []byte("\n"))
	return err.WithLocation(fmt.Sprintf("%s/%s", source.Pages, page.Path), offset+line)
}
