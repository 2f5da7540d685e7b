package build

import (
	"context"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
	"github.com/hotovec/mails/internal/watcher"
)

// Reloader tells connected preview clients to refresh.
type Reloader interface {
	Reload(buildID string)
}

// Plan is the work one batch of changes needs.
type Plan struct {
	// Reset drops the template cache before compiling.
	Reset bool
	Tasks []string
}

// Empty reports whether the plan runs nothing.
func (p Plan) Empty() bool { return len(p.Tasks) == 0 }

// Rebuilder re-runs the affected part of the graph for each batch of
// changes, one batch at a time.
type Rebuilder struct {
	builder    *Builder
	classifier *watcher.Classifier
	reloader   Reloader
	handler    *errors.Handler
	logger     logging.Logger
}

// NewRebuilder creates a rebuilder. reloader may be nil.
func NewRebuilder(b *Builder, classifier *watcher.Classifier, reloader Reloader, logger logging.Logger) *Rebuilder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("rebuild")
	return &Rebuilder{
		builder:    b,
		classifier: classifier,
		reloader:   reloader,
		handler:    errors.NewHandler(logger),
		logger:     logger,
	}
}

// PlanFor merges the rebuilds the classes need. Template and style
// changes can affect any page, so both reset the cache and recompile
// everything. With purging enabled the stylesheet depends on the
// documents, so page changes re-run compile-styles as well.
func (r *Rebuilder) PlanFor(classes []watcher.Class) Plan {
	production := r.builder.Config().Production
	want := make(map[string]bool)
	var plan Plan

	for _, class := range classes {
		switch class {
		case watcher.ClassPages:
			want[TaskCompilePages] = true
			want[TaskInline] = true
			if production {
				want[TaskCompileStyles] = true
			}
		case watcher.ClassTemplates:
			plan.Reset = true
			want[TaskCompilePages] = true
			want[TaskInline] = true
			if production {
				want[TaskCompileStyles] = true
			}
		case watcher.ClassStyles:
			plan.Reset = true
			want[TaskCompileStyles] = true
			want[TaskCompilePages] = true
			want[TaskInline] = true
		case watcher.ClassImages:
			want[TaskProcessImages] = true
		}
	}

	for _, name := range r.builder.Graph().Order() {
		if want[name] {
			plan.Tasks = append(plan.Tasks, name)
		}
	}
	return plan
}

// Handle rebuilds for one batch and signals a reload when the rebuild
// succeeded.
func (r *Rebuilder) Handle(ctx context.Context, batch []watcher.ChangeEvent) error {
	classes := r.classifier.Classes(batch)
	plan := r.PlanFor(classes)
	if plan.Empty() {
		return nil
	}

	r.logger.Info(ctx, "Sources changed", "files", len(batch), "classes", classes, "tasks", plan.Tasks)

	if plan.Reset {
		r.builder.Cache().Reset()
	}

	report, err := r.builder.Run(ctx, "rebuild", plan.Tasks...)
	if err != nil {
		return errors.NewWatcherError(err)
	}

	if r.reloader != nil {
		r.reloader.Reload(report.BuildID)
	}
	return nil
}

// Run handles batches until ctx is done or events is closed. Rebuild
// failures are logged and the loop keeps going.
func (r *Rebuilder) Run(ctx context.Context, events <-chan []watcher.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.handler.Handle(ctx, err)
			}
		}
	}
}
