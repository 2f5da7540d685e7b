// Package build composes the build tasks into a dependency graph, runs
// them, and re-runs the affected subset when sources change.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hotovec/mails/internal/compiler"
	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/images"
	"github.com/hotovec/mails/internal/inky"
	"github.com/hotovec/mails/internal/inliner"
	"github.com/hotovec/mails/internal/logging"
	"github.com/hotovec/mails/internal/source"
	"github.com/hotovec/mails/internal/styles"
)

// Task names.
const (
	TaskClean         = "clean"
	TaskCompilePages  = "compile-pages"
	TaskCompileStyles = "compile-styles"
	TaskProcessImages = "process-images"
	TaskInline        = "inline"
)

// ErrCleanFailed matches, via errors.Is, a clean failure. It is the one
// task failure that must stop the process.
var ErrCleanFailed = &errors.BuildError{Kind: errors.KindIO, Code: errors.ErrCodeCleanFailed}

// Options configure a Builder. Zero values get defaults.
type Options struct {
	Cache      *compiler.Cache
	Compressor images.Compressor
	Transpiler styles.Transpiler
	Metrics    *Metrics
	Logger     logging.Logger
}

// Builder owns everything a build needs across runs: the task graph, the
// template cache and the State the tasks share.
type Builder struct {
	cfg        *config.Config
	layout     config.Layout
	cache      *compiler.Cache
	compiler   *compiler.Compiler
	transpiler styles.Transpiler
	images     *images.Processor
	scheduler  *Scheduler
	metrics    *Metrics
	logger     logging.Logger
	graph      *Graph
	state      *State
}

// NewBuilder wires the tasks for cfg's project.
func NewBuilder(cfg *config.Config, opts Options) (*Builder, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Cache == nil {
		opts.Cache = compiler.NewCache()
	}
	if opts.Compressor == nil && cfg.Build.ImageCommand != "" {
		cmd, err := images.NewCommand(cfg.Build.ImageCommand)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "build.image_command", err)
		}
		opts.Compressor = cmd
	}
	if opts.Transpiler == nil && cfg.Build.Sass != "" {
		sass, err := styles.NewDartSass(cfg.Build.Sass)
		if err != nil {
			return nil, err
		}
		opts.Transpiler = sass
	}
	opts.Metrics.TrackCache(opts.Cache)

	b := &Builder{
		cfg:    cfg,
		layout: cfg.Layout(),
		cache:  opts.Cache,
		compiler: compiler.New(opts.Cache, compiler.Options{
			DefaultLayout: cfg.Build.DefaultLayout,
			Workers:       cfg.Build.Workers,
		}, opts.Logger),
		transpiler: opts.Transpiler,
		images:     images.NewProcessor(opts.Compressor, images.Options{Workers: cfg.Build.Workers}, opts.Logger),
		scheduler:  NewScheduler(opts.Logger, opts.Metrics),
		metrics:    opts.Metrics,
		logger:     opts.Logger.WithComponent("build"),
		state:      NewState(),
	}

	graph, err := NewGraph(
		&Task{Name: TaskClean, Run: b.clean},
		&Task{Name: TaskCompilePages, Deps: []string{TaskClean}, Run: b.compilePages},
		&Task{Name: TaskCompileStyles, Deps: []string{TaskCompilePages}, Run: b.compileStyles},
		&Task{Name: TaskProcessImages, Deps: []string{TaskCompilePages}, Run: b.processImages},
		&Task{Name: TaskInline, Deps: []string{TaskCompileStyles, TaskProcessImages}, Run: b.inline},
	)
	if err != nil {
		return nil, err
	}
	b.graph = graph

	return b, nil
}

// Graph returns the full task graph.
func (b *Builder) Graph() *Graph { return b.graph }

// State returns the artifacts of the most recent runs.
func (b *Builder) State() *State { return b.state }

// Cache returns the template cache.
func (b *Builder) Cache() *compiler.Cache { return b.cache }

// Layout returns the project's source and output roots.
func (b *Builder) Layout() config.Layout { return b.layout }

// Config returns the configuration the builder was created with.
func (b *Builder) Config() *config.Config { return b.cfg }

// Run executes the named tasks, or the whole graph when none are named,
// under a fresh build ID.
func (b *Builder) Run(ctx context.Context, pipeline string, tasks ...string) (*RunReport, error) {
	g := b.graph
	if len(tasks) > 0 {
		sub, err := b.graph.Subgraph(tasks...)
		if err != nil {
			return nil, err
		}
		g = sub
	}

	id := NewBuildID()
	ctx = WithBuildID(ctx, id)
	logger := b.logger.With("build_id", id, "pipeline", pipeline)
	logger.Info(ctx, "Build started", "project", b.layout.Project, "tasks", g.Order(), "production", b.cfg.Production)

	// Tasks log through ctx so every line carries the build ID.
	ctx = logging.WithLogger(ctx, logger)

	perf := logging.StartOperation(logger, pipeline)
	report, err := b.scheduler.Run(ctx, g, b.state)
	b.metrics.IncBuild(pipeline, err)
	if err != nil {
		perf.EndWithError(ctx, err)
		return report, err
	}
	elapsed := perf.End(ctx)
	logger.Info(ctx, "Build finished", "duration", elapsed.Round(time.Millisecond).String())

	if pageErrors := b.state.PageErrors(); pageErrors.HasErrors() {
		logger.Warn(ctx, pageErrors.Join(), "Some pages were skipped", "count", pageErrors.Len())
	}
	return report, nil
}

func (b *Builder) clean(ctx context.Context, _ *State) error {
	dst := filepath.Clean(b.layout.Dst)
	if dst == "." || dst == string(filepath.Separator) {
		return errors.NewIOError(errors.ErrCodeCleanFailed,
			fmt.Sprintf("refusing to clean %q", b.layout.Dst), nil)
	}

	if err := os.RemoveAll(dst); err != nil {
		return errors.NewIOError(errors.ErrCodeCleanFailed, fmt.Sprintf("remove %s", dst), err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeCleanFailed, fmt.Sprintf("create %s", dst), err)
	}

	logging.FromContext(ctx).Debug(ctx, "Cleaned output", "dir", dst)
	return nil
}

func (b *Builder) compilePages(ctx context.Context, state *State) error {
	tree, err := source.Load(b.layout)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeTemplate, "load sources", err)
	}

	result, err := b.compiler.CompileAll(ctx, tree)
	if err != nil {
		return err
	}

	docs := make([]*compiler.Document, len(result.Documents))
	for i, doc := range result.Documents {
		doc = doc.Clone()
		doc.Markup = inky.Normalize(doc.Markup)
		docs[i] = doc
	}

	state.setDocuments(docs, result.Errors)
	b.metrics.AddPageErrors(result.Errors.Len())
	for _, err := range result.Errors.Errors() {
		logging.FromContext(ctx).Warn(ctx, err, "Page skipped")
	}

	logging.FromContext(ctx).Info(ctx, "Compiled pages",
		"compiled", len(result.Compiled),
		"reused", len(result.Reused),
		"failed", result.Errors.Len())
	return nil
}

func (b *Builder) compileStyles(ctx context.Context, state *State) error {
	sheet, err := styles.Compile(ctx, styles.Options{
		Entry:        filepath.Join(b.layout.StylesDir(), b.cfg.Build.Stylesheet),
		IncludePaths: b.cfg.Paths.Include,
		SourceMap:    !b.cfg.Production,
		Transpiler:   b.transpiler,
	})
	if err != nil {
		return err
	}

	if b.cfg.Production {
		docs := state.Documents()
		markup := make([][]byte, len(docs))
		for i, doc := range docs {
			markup[i] = doc.Markup
		}
		before := len(sheet.Rules)
		sheet = styles.Purge(sheet, markup)
		logging.FromContext(ctx).Debug(ctx, "Purged unused rules", "before", before, "after", len(sheet.Rules))
	}

	bundle := filepath.Join(b.layout.DstCSSDir(), b.cfg.Build.Bundle+".css")
	data, err := sheet.Bundle()
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, "encode source map", err)
	}
	if err := writeFileAtomic(bundle, data); err != nil {
		return err
	}
	state.setStylesheet(sheet)

	logging.FromContext(ctx).Info(ctx, "Compiled stylesheet",
		"rules", len(sheet.Rules),
		"source_map", sheet.SourceMap != nil,
		"retained", len(sheet.Retained),
		"output", bundle)
	return nil
}

func (b *Builder) processImages(ctx context.Context, state *State) error {
	files, err := b.images.Process(ctx, b.layout.ImagesDir(), b.layout.DstImagesDir())
	if err != nil {
		return err
	}
	state.setImages(files)
	return nil
}

// inline writes the documents. In production they go through the inliner
// pipeline; in development they are written as compiled, stylesheet link
// included.
func (b *Builder) inline(ctx context.Context, state *State) error {
	var pipeline *inliner.Pipeline
	if b.cfg.Production {
		sheet := state.Stylesheet()
		if sheet == nil {
			return fmt.Errorf("no compiled stylesheet to inline")
		}
		pipeline = inliner.NewPipeline(sheet, inliner.Options{
			Placeholder:    b.cfg.Build.Placeholder,
			StylesheetHref: b.cfg.StylesheetHref(),
		})
	}

	docs := state.Documents()
	written := make([]string, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Build.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			markup := doc.Markup
			if pipeline != nil {
				out, err := pipeline.Process(markup)
				if err != nil {
					return errors.NewIOError(errors.ErrCodeWrite, "finish document", err).WithPage(doc.Source)
				}
				markup = out
			}
			if err := writeFileAtomic(filepath.Join(b.layout.Dst, filepath.FromSlash(doc.OutputPath)), markup); err != nil {
				return err
			}
			written[i] = doc.OutputPath
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.removeStale(ctx, state.Written(), written)
	state.setWritten(written)

	logging.FromContext(ctx).Info(ctx, "Wrote documents", "count", len(written), "inlined", pipeline != nil)
	return nil
}

// removeStale deletes documents a previous run wrote for pages that no
// longer compile or exist.
func (b *Builder) removeStale(ctx context.Context, previous, current []string) {
	keep := make(map[string]bool, len(current))
	for _, p := range current {
		keep[p] = true
	}
	for _, p := range previous {
		if keep[p] {
			continue
		}
		name := filepath.Join(b.layout.Dst, filepath.FromSlash(p))
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			logging.FromContext(ctx).Warn(ctx, err, "Could not remove stale document", "path", name)
		}
	}
}
