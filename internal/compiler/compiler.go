// Package compiler renders pages through their layout and partials into
// flat HTML documents.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template/parse"

	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/frontmatter"
	"github.com/hotovec/mails/internal/logging"
	"github.com/hotovec/mails/internal/source"
)

// bodyTemplate is the name layouts use to render the page.
const bodyTemplate = "body"

// Document is one compiled page.
type Document struct {
	// Source is the page's logical path.
	Source     string
	OutputPath string
	Markup     []byte
}

// Clone returns a copy whose markup can be modified independently.
func (d *Document) Clone() *Document {
	markup := make([]byte, len(d.Markup))
	copy(markup, d.Markup)
	return &Document{Source: d.Source, OutputPath: d.OutputPath, Markup: markup}
}

// Options configure a Compiler.
type Options struct {
	DefaultLayout string
	Workers       int
}

// Compiler compiles pages against a shared Cache.
type Compiler struct {
	cache    *Cache
	opts     Options
	markdown goldmark.Markdown
	logger   logging.Logger
}

// Result is the outcome of compiling every page of a tree.
type Result struct {
	// Documents holds successfully compiled pages in page order.
	Documents []*Document
	// Errors holds page-scoped failures.
	Errors *errors.Collector
	// Compiled lists pages rendered in this run, Reused those served
	// from the document cache.
	Compiled []string
	Reused   []string
}

// New creates a compiler. A nil cache gets a private one.
func New(cache *Cache, opts Options, logger logging.Logger) *Compiler {
	if cache == nil {
		cache = NewCache()
	}
	if opts.DefaultLayout == "" {
		opts.DefaultLayout = "default"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Compiler{
		cache:    cache,
		opts:     opts,
		markdown: newMarkdown(),
		logger:   logger.WithComponent("compiler"),
	}
}

// Cache returns the cache the compiler reads from.
func (c *Compiler) Cache() *Cache {
	return c.cache
}

// CompileAll compiles every non-archived page. Page failures are collected
// in the result; only failures that affect every page are returned as err.
func (c *Compiler) CompileAll(ctx context.Context, tree *source.Tree) (*Result, error) {
	if _, _, _, err := c.cache.templates(tree, c.funcs("")); err != nil {
		return nil, err
	}

	pages := tree.Pages()
	docs := make([]*Document, len(pages))
	reused := make([]bool, len(pages))
	collector := errors.NewCollector()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, hit, err := c.compile(tree, page)
			if err != nil {
				if errors.IsFatal(err) {
					return err
				}
				c.logger.Warn(gctx, err, "Page failed to compile", "page", page.Path)
				collector.Add(err)
				return nil
			}
			docs[i] = doc
			reused[i] = hit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Errors: collector}
	keep := make(map[string]bool, len(pages))
	for i, doc := range docs {
		keep[pages[i].Path] = true
		if doc == nil {
			continue
		}
		result.Documents = append(result.Documents, doc)
		if reused[i] {
			result.Reused = append(result.Reused, doc.Source)
		} else {
			result.Compiled = append(result.Compiled, doc.Source)
		}
	}
	c.cache.prune(keep)

	c.logger.Debug(ctx, "Compiled pages",
		"compiled", len(result.Compiled),
		"reused", len(result.Reused),
		"failed", collector.Len())

	return result, nil
}

// Compile compiles a single page.
func (c *Compiler) Compile(ctx context.Context, tree *source.Tree, page *source.File) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, _, err := c.compile(tree, page)
	return doc, err
}

func (c *Compiler) compile(tree *source.Tree, page *source.File) (*Document, bool, error) {
	if doc, ok := c.cache.document(page.Path, page.Hash); ok {
		return doc, true, nil
	}

	base, broken, data, err := c.cache.templates(tree, c.funcs(""))
	if err != nil {
		return nil, false, err
	}

	fields, body, err := frontmatter.Parse(page.Content)
	if err != nil {
		return nil, false, errors.NewTemplateError(page.Path, fmt.Errorf("front matter: %w", err))
	}

	layout := c.opts.DefaultLayout
	if name, ok := fields["layout"].(string); ok && name != "" {
		layout = name
	}

	name := page.Name()
	t, err := base.Clone()
	if err != nil {
		return nil, false, errors.NewTemplateError(page.Path, err)
	}
	t.Funcs(c.funcs(name))
	if _, err := t.New(bodyTemplate).Parse(preserveComments(string(body))); err != nil {
		return nil, false, withBodyLocation(errors.NewTemplateError(page.Path, err), page, body)
	}

	if err := resolve(t, broken, page.Path, layout); err != nil {
		return nil, false, err
	}

	vars := make(map[string]any, len(data)+len(fields)+3)
	for k, v := range data {
		vars[k] = v
	}
	for k, v := range fields {
		vars[k] = v
	}
	vars["page"] = name
	vars["root"] = rootPrefix(page.Path)
	vars["layout"] = layout

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutPrefix+layout, vars); err != nil {
		return nil, false, withBodyLocation(errors.NewTemplateError(page.Path, err), page, body)
	}

	doc := &Document{
		Source:     page.Path,
		OutputPath: page.OutputPath(),
		Markup:     buf.Bytes(),
	}
	c.cache.storeDocument(page.Path, page.Hash, doc)
	return doc, false, nil
}

// resolve checks that the layout and every template reachable from it
// exist before anything is executed.
func resolve(t *htmltemplate.Template, broken map[string]error, page, layout string) error {
	root := layoutPrefix + layout
	if err, ok := broken[root]; ok {
		return errors.NewTemplateError(page, brokenError(layout, err))
	}
	if tt := t.Lookup(root); tt == nil || tt.Tree == nil {
		return errors.NewReferenceError(page, "layout", layout)
	}

	visited := map[string]bool{}
	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		if err, ok := broken[name]; ok {
			return errors.NewTemplateError(page, brokenError(name, err))
		}
		tt := t.Lookup(name)
		if tt == nil || tt.Tree == nil {
			return errors.NewReferenceError(page, "partial", name)
		}

		var refs []string
		templateRefs(tt.Tree.Root, &refs)
		queue = append(queue, refs...)
	}
	return nil
}

// templateRefs appends the names of every {{template}} action under node
// in document order.
func templateRefs(node parse.Node, out *[]string) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			templateRefs(child, out)
		}
	case *parse.IfNode:
		templateRefs(n.List, out)
		templateRefs(n.ElseList, out)
	case *parse.RangeNode:
		templateRefs(n.List, out)
		templateRefs(n.ElseList, out)
	case *parse.WithNode:
		templateRefs(n.List, out)
		templateRefs(n.ElseList, out)
	case *parse.TemplateNode:
		*out = append(*out, n.Name)
	}
}
