package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
)

// WorkFunc is the body of a task.
type WorkFunc func(ctx context.Context) error

// Task is a named unit of work. Dependencies must complete successfully before
// Work runs. After only orders the task behind the listed tasks when they are
// part of the same invocation; it never pulls them in.
type Task struct {
	Name         string
	Description  string
	Dependencies []string
	After        []string
	Work         WorkFunc
}

// Graph holds the registered tasks in registration order.
type Graph struct {
	mx    sync.RWMutex
	tasks map[string]Task
	order []string
}

func NewGraph() *Graph {
	return &Graph{
		tasks: make(map[string]Task),
	}
}

// Register adds a task. Names are unique.
func (g *Graph) Register(task Task) error {
	name := strings.TrimSpace(task.Name)
	if name == "" {
		return errors.NewValidation("task name is required",
			errors.FieldError{Field: "name", Message: "cannot be empty"})
	}

	g.mx.Lock()
	defer g.mx.Unlock()

	if _, exists := g.tasks[name]; exists {
		return badInput(CodeGraphInvalid, fmt.Sprintf("task %s already registered", name), map[string]any{"task": name})
	}

	task.Name = name
	g.tasks[name] = task
	g.order = append(g.order, name)
	return nil
}

// MustRegister registers every task and panics on the first error.
func (g *Graph) MustRegister(tasks ...Task) *Graph {
	for _, task := range tasks {
		if err := g.Register(task); err != nil {
			panic(err)
		}
	}
	return g
}

func (g *Graph) Get(name string) (Task, bool) {
	g.mx.RLock()
	defer g.mx.RUnlock()

	task, ok := g.tasks[name]
	return task, ok
}

// List returns tasks in registration order.
func (g *Graph) List() []Task {
	g.mx.RLock()
	defer g.mx.RUnlock()

	tasks := make([]Task, 0, len(g.order))
	for _, name := range g.order {
		tasks = append(tasks, g.tasks[name])
	}
	return tasks
}

// Names returns registered task names in registration order.
func (g *Graph) Names() []string {
	g.mx.RLock()
	defer g.mx.RUnlock()
	return append([]string(nil), g.order...)
}

// Validate checks that every dependency and After edge names a registered task
// and that the combined edges are acyclic.
func (g *Graph) Validate() error {
	g.mx.RLock()
	defer g.mx.RUnlock()

	for _, name := range g.order {
		task := g.tasks[name]
		for _, dep := range append(append([]string(nil), task.Dependencies...), task.After...) {
			if dep == name {
				return badInput(CodeGraphInvalid, fmt.Sprintf("task %s depends on itself", name),
					map[string]any{"task": name})
			}
			if _, ok := g.tasks[dep]; !ok {
				return badInput(CodeGraphInvalid, fmt.Sprintf("task %s depends on unknown task %s", name, dep),
					map[string]any{"task": name, "dependency": dep})
			}
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return badInput(CodeGraphInvalid, "dependency cycle: "+strings.Join(cycle, " -> "),
			map[string]any{"cycle": cycle})
	}
	return nil
}

// findCycle runs a three color DFS over Dependencies and After edges and
// returns the first cycle found, closed on its starting task.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = grey
		stack = append(stack, name)

		task := g.tasks[name]
		for _, next := range append(append([]string(nil), task.Dependencies...), task.After...) {
			switch color[next] {
			case grey:
				for i, n := range stack {
					if n == next {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.order {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// plan is the resolved execution set for one invocation.
type plan struct {
	order    []string
	prereqs  map[string][]string
	hardDeps map[string]map[string]bool
}

// closure resolves the transitive Dependencies of names and orders them so
// every prerequisite appears before its dependents.
func (g *Graph) closure(names []string) (*plan, error) {
	g.mx.RLock()
	defer g.mx.RUnlock()

	included := make(map[string]bool)
	var walk func(name string) error
	walk = func(name string) error {
		if included[name] {
			return nil
		}
		task, ok := g.tasks[name]
		if !ok {
			return badInput(CodeTaskNotFound, fmt.Sprintf("task %s not found", name), map[string]any{"task": name})
		}
		included[name] = true
		for _, dep := range task.Dependencies {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := walk(name); err != nil {
			return nil, err
		}
	}

	p := &plan{
		prereqs:  make(map[string][]string, len(included)),
		hardDeps: make(map[string]map[string]bool, len(included)),
	}

	indegree := make(map[string]int, len(included))
	dependents := make(map[string][]string)
	for _, name := range g.order {
		if !included[name] {
			continue
		}
		task := g.tasks[name]
		hard := make(map[string]bool, len(task.Dependencies))
		var pre []string
		for _, dep := range task.Dependencies {
			if !hard[dep] {
				hard[dep] = true
				pre = append(pre, dep)
			}
		}
		for _, after := range task.After {
			if included[after] && !hard[after] && !contains(pre, after) {
				pre = append(pre, after)
			}
		}
		p.prereqs[name] = pre
		p.hardDeps[name] = hard
		indegree[name] = len(pre)
		for _, dep := range pre {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range g.order {
		if included[name] && indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		p.order = append(p.order, name)
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(p.order) != len(included) {
		var stuck []string
		for name := range included {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, badInput(CodeGraphInvalid, "dependency cycle among "+strings.Join(stuck, ", "),
			map[string]any{"tasks": stuck})
	}

	return p, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
