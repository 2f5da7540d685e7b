package build

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs the order tasks start and finish in.
type recorder struct {
	mutex  sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) index(event string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

func recorded(r *recorder, name string, deps ...string) *Task {
	return &Task{Name: name, Deps: deps, Run: func(context.Context, *State) error {
		r.add("start " + name)
		r.add("end " + name)
		return nil
	}}
}

func TestSchedulerRespectsDependencies(t *testing.T) {
	rec := &recorder{}
	g, err := NewGraph(
		recorded(rec, "clean"),
		recorded(rec, "compile-pages", "clean"),
		recorded(rec, "compile-styles", "compile-pages"),
		recorded(rec, "process-images", "compile-pages"),
		recorded(rec, "inline", "compile-styles", "process-images"),
	)
	require.NoError(t, err)

	report, err := NewScheduler(nil, nil).Run(WithBuildID(context.Background(), "b-1"), g, NewState())
	require.NoError(t, err)

	assert.Equal(t, "b-1", report.BuildID)
	assert.False(t, report.Failed())
	require.Len(t, report.Results, 5)
	for i, name := range g.Order() {
		assert.Equal(t, name, report.Results[i].Task)
		assert.Equal(t, StatusSucceeded, report.Results[i].Status)
	}

	for _, edge := range [][2]string{
		{"clean", "compile-pages"},
		{"compile-pages", "compile-styles"},
		{"compile-pages", "process-images"},
		{"compile-styles", "inline"},
		{"process-images", "inline"},
	} {
		assert.Less(t, rec.index("end "+edge[0]), rec.index("start "+edge[1]), "%s before %s", edge[0], edge[1])
	}
}

func TestSchedulerRunsIndependentTasksConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	barrier := make(chan struct{})
	var once sync.Once

	branch := func(name string) *Task {
		return &Task{Name: name, Deps: []string{"root"}, Run: func(ctx context.Context, _ *State) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			if n == 2 {
				once.Do(func() { close(barrier) })
			}
			select {
			case <-barrier:
				return nil
			case <-time.After(5 * time.Second):
				return stderrors.New("branches never overlapped")
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}

	g, err := NewGraph(task("root"), branch("styles"), branch("images"), task("inline", "styles", "images"))
	require.NoError(t, err)

	_, err = NewScheduler(nil, nil).Run(context.Background(), g, NewState())
	require.NoError(t, err)
	assert.Equal(t, int32(2), peak.Load())
}

func TestSchedulerStopsAtFirstFailure(t *testing.T) {
	boom := stderrors.New("boom")
	var inlineRan atomic.Bool
	var imagesCancelled atomic.Bool

	g, err := NewGraph(
		task("clean"),
		task("compile-pages", "clean"),
		&Task{Name: "compile-styles", Deps: []string{"compile-pages"}, Run: func(context.Context, *State) error {
			return boom
		}},
		&Task{Name: "process-images", Deps: []string{"compile-pages"}, Run: func(ctx context.Context, _ *State) error {
			select {
			case <-ctx.Done():
				imagesCancelled.Store(true)
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		}},
		&Task{Name: "inline", Deps: []string{"compile-styles", "process-images"}, Run: func(context.Context, *State) error {
			inlineRan.Store(true)
			return nil
		}},
	)
	require.NoError(t, err)

	report, err := NewScheduler(nil, nil).Run(context.Background(), g, NewState())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task compile-styles")

	assert.True(t, report.Failed())
	assert.False(t, inlineRan.Load(), "downstream of a failed task never starts")
	assert.True(t, imagesCancelled.Load(), "running siblings see cancellation")

	styles, ok := report.Result("compile-styles")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, styles.Status)
	assert.ErrorIs(t, styles.Err, boom)

	inline, _ := report.Result("inline")
	assert.Equal(t, StatusSkipped, inline.Status)

	clean, _ := report.Result("clean")
	assert.Equal(t, StatusSucceeded, clean.Status)
}

func TestSchedulerCancelledBeforeStart(t *testing.T) {
	var ran atomic.Int32
	counting := func(name string, deps ...string) *Task {
		return &Task{Name: name, Deps: deps, Run: func(context.Context, *State) error {
			ran.Add(1)
			return nil
		}}
	}
	g, err := NewGraph(counting("a"), counting("b", "a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewScheduler(nil, nil).Run(ctx, g, NewState())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ran.Load())
	for _, res := range report.Results {
		assert.Equal(t, StatusSkipped, res.Status)
	}
}

func TestSchedulerRecordsMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	m := NewMetrics(reg)
	g, err := NewGraph(task("a"), &Task{Name: "b", Deps: []string{"a"}, Run: func(context.Context, *State) error {
		return stderrors.New("nope")
	}})
	require.NoError(t, err)

	_, err = NewScheduler(nil, m).Run(context.Background(), g, NewState())
	require.Error(t, err)

	assert.Equal(t, uint64(1), histogramCount(t, reg, "a", StatusSucceeded))
	assert.Equal(t, uint64(1), histogramCount(t, reg, "b", StatusFailed))
}

func TestRunReportResultUnknown(t *testing.T) {
	report := &RunReport{Results: []TaskResult{{Task: "a", Status: StatusSucceeded}}}
	_, ok := report.Result("b")
	assert.False(t, ok)
	assert.False(t, report.Failed())
}
