package build

import (
	"container/heap"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Task is one named step of a pipeline.
type Task struct {
	Name string
	Deps []string
	Run  func(ctx context.Context, state *State) error
}

// ErrInvalidGraph is wrapped by every graph validation failure.
var ErrInvalidGraph = stderrors.New("invalid task graph")

// CycleError reports a dependency cycle. Path starts and ends with the
// same task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrInvalidGraph }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidGraph}, args...)...)
}

// Graph is a validated set of tasks. It is immutable after construction
// and safe for concurrent reads.
type Graph struct {
	tasks      []*Task // insertion order
	index      map[string]int
	dependents [][]int
	indeg      []int
	order      []string
}

// NewGraph validates tasks and computes their execution order. It rejects
// empty or duplicate names, dependencies on unknown tasks, self
// dependencies and cycles.
func NewGraph(tasks ...*Task) (*Graph, error) {
	g := &Graph{
		tasks:      tasks,
		index:      make(map[string]int, len(tasks)),
		dependents: make([][]int, len(tasks)),
		indeg:      make([]int, len(tasks)),
	}

	for i, t := range tasks {
		if t == nil || t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := g.index[t.Name]; exists {
			return nil, invalidf("duplicate task %q", t.Name)
		}
		g.index[t.Name] = i
	}

	for i, t := range tasks {
		seen := make(map[string]bool, len(t.Deps))
		for _, dep := range t.Deps {
			j, ok := g.index[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", t.Name, dep)
			}
			if j == i {
				return nil, invalidf("task %q depends on itself", t.Name)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.dependents[j] = append(g.dependents[j], i)
			g.indeg[i]++
		}
	}

	order := g.topoOrder()
	if len(order) != len(tasks) {
		return nil, &CycleError{Path: g.findCycle()}
	}
	g.order = make([]string, len(order))
	for i, idx := range order {
		g.order[i] = tasks[idx].Name
	}

	return g, nil
}

// Order returns the task names in a deterministic topological order. Ties
// are broken by insertion order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Task returns a task by name.
func (g *Graph) Task(name string) (*Task, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// Len is the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Subgraph returns the graph restricted to names. Dependencies on tasks
// outside the subset are dropped; their results are expected to already
// be in the State from an earlier run.
func (g *Graph) Subgraph(names ...string) (*Graph, error) {
	keep := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := g.index[name]; !ok {
			return nil, invalidf("unknown task %q", name)
		}
		keep[name] = true
	}

	var tasks []*Task
	for _, t := range g.tasks {
		if !keep[t.Name] {
			continue
		}
		sub := &Task{Name: t.Name, Run: t.Run}
		for _, dep := range t.Deps {
			if keep[dep] {
				sub.Deps = append(sub.Deps, dep)
			}
		}
		tasks = append(tasks, sub)
	}
	return NewGraph(tasks...)
}

func (g *Graph) depsOf(i int) []int {
	var out []int
	for j, dependents := range g.dependents {
		for _, d := range dependents {
			if d == i {
				out = append(out, j)
			}
		}
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap ready queue so the
// order only depends on insertion order.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle extracts one cycle with a DFS over insertion order, following
// edges from a task to its dependencies.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.tasks))
	var stack []int
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.depsOf(u) {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == v {
						cycle = append(append([]int{}, stack[i:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.tasks {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, len(cycle))
	for i, idx := range cycle {
		out[i] = g.tasks[idx].Name
	}
	return out
}
