package build

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hotovec/mails/internal/logging"
)

// TaskStatus is the outcome of one task in a run.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	Task     string
	Status   TaskStatus
	Duration time.Duration
	Err      error
}

// RunReport lists every task of a run in graph order.
type RunReport struct {
	BuildID  string
	Results  []TaskResult
	Duration time.Duration
}

// Result returns the result of the named task.
func (r *RunReport) Result(task string) (TaskResult, bool) {
	for _, res := range r.Results {
		if res.Task == task {
			return res, true
		}
	}
	return TaskResult{}, false
}

// Failed reports whether any task failed.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Scheduler runs a Graph, starting each task once all of its
// dependencies succeeded. Independent tasks run concurrently. The first
// failure cancels the run: running tasks see a cancelled context and no
// further task is started. Nothing is retried.
type Scheduler struct {
	logger  logging.Logger
	metrics *Metrics
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(logger logging.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{logger: logger.WithComponent("scheduler"), metrics: metrics}
}

// Run executes g against state. The report is always returned; err is
// the first task failure.
func (s *Scheduler) Run(ctx context.Context, g *Graph, state *State) (*RunReport, error) {
	start := time.Now()
	order := g.Order()
	position := make(map[string]int, len(order))
	report := &RunReport{
		BuildID: BuildIDFromContext(ctx),
		Results: make([]TaskResult, len(order)),
	}
	for i, name := range order {
		position[name] = i
		report.Results[i] = TaskResult{Task: name, Status: StatusSkipped}
	}

	var mutex sync.Mutex
	pending := make([]int, len(g.indeg))
	copy(pending, g.indeg)

	eg, gctx := errgroup.WithContext(ctx)

	var launch func(i int)
	launch = func(i int) {
		task := g.tasks[i]
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}

			s.logger.Debug(gctx, "Task started", "task", task.Name, "build_id", report.BuildID)
			taskStart := time.Now()
			err := task.Run(gctx, state)
			elapsed := time.Since(taskStart)

			status := StatusSucceeded
			if err != nil {
				status = StatusFailed
				err = fmt.Errorf("task %s: %w", task.Name, err)
			}
			s.metrics.ObserveTask(task.Name, status, elapsed)

			mutex.Lock()
			report.Results[position[task.Name]] = TaskResult{
				Task:     task.Name,
				Status:   status,
				Duration: elapsed,
				Err:      err,
			}
			var ready []int
			if err == nil {
				for _, d := range g.dependents[i] {
					pending[d]--
					if pending[d] == 0 {
						ready = append(ready, d)
					}
				}
			}
			mutex.Unlock()

			if err != nil {
				s.logger.Error(gctx, err, "Task failed", "task", task.Name, "duration", elapsed)
				return err
			}
			s.logger.Debug(gctx, "Task finished", "task", task.Name, "duration", elapsed)

			for _, d := range ready {
				launch(d)
			}
			return nil
		})
	}

	for i, d := range g.indeg {
		if d == 0 {
			launch(i)
		}
	}

	err := eg.Wait()
	report.Duration = time.Since(start)
	if err == nil && ctx.Err() != nil {
		for _, res := range report.Results {
			if res.Status == StatusSkipped {
				return report, ctx.Err()
			}
		}
	}
	return report, err
}
