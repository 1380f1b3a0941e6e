package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs tasks from a Graph. Each invocation executes the
// transitive closure of the requested tasks exactly once, running independent
// tasks concurrently. A failed task skips its dependents while unrelated
// branches keep going.
type Orchestrator struct {
	mx    sync.Mutex
	graph *Graph

	logger            Logger
	loggerProvider    LoggerProvider
	taskEventHandlers []TaskEventHandler
	now               func() time.Time

	watchRoot     string
	watchDebounce time.Duration
	watches       []*watch

	locks map[string]chan struct{}
	last  *Report
}

type watch struct {
	watcher *Watcher
	trigger *Trigger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLoggerProvider sets the provider used for orchestrator and watcher logs.
func WithOrchestratorLoggerProvider(provider LoggerProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		if provider != nil {
			o.loggerProvider = provider
			o.logger = provider.GetLogger("pipeline:orchestrator")
		}
	}
}

// WithTaskEventHandler registers a handler for task lifecycle events.
func WithTaskEventHandler(handler TaskEventHandler) OrchestratorOption {
	return func(o *Orchestrator) {
		if handler != nil {
			o.taskEventHandlers = append(o.taskEventHandlers, handler)
		}
	}
}

// WithWatchRoot sets the directory watch patterns are relative to.
func WithWatchRoot(dir string) OrchestratorOption {
	return func(o *Orchestrator) {
		if dir != "" {
			o.watchRoot = dir
		}
	}
}

// WithWatchDebounce sets how long the watcher waits for a burst of changes to settle.
func WithWatchDebounce(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.watchDebounce = d
		}
	}
}

func NewOrchestrator(graph *Graph, opts ...OrchestratorOption) *Orchestrator {
	provider := newStdLoggerProvider()
	o := &Orchestrator{
		graph:          graph,
		loggerProvider: provider,
		logger:         provider.GetLogger("pipeline:orchestrator"),
		now:            time.Now,
		watchRoot:      ".",
		watchDebounce:  DefaultWatchDebounce,
		locks:          make(map[string]chan struct{}),
	}
	if o.graph == nil {
		o.graph = NewGraph()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// AddTaskEventHandler implements TaskEventEmitter.
func (o *Orchestrator) AddTaskEventHandler(handler TaskEventHandler) {
	if handler == nil {
		return
	}
	o.mx.Lock()
	defer o.mx.Unlock()
	o.taskEventHandlers = append(o.taskEventHandlers, handler)
}

func (o *Orchestrator) Graph() *Graph {
	return o.graph
}

// LastReport returns the report of the most recent Run.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Run executes names and everything they depend on. With no names it runs
// the task called "default".
func (o *Orchestrator) Run(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = []string{TaskDefault}
	}

	if err := o.graph.Validate(); err != nil {
		return err
	}

	p, err := o.graph.closure(names)
	if err != nil {
		return err
	}

	o.logger.Debug("running tasks", "requested", strings.Join(names, ","), "plan", strings.Join(p.order, ","))

	started := o.now()
	report := Report{
		Requested: append([]string(nil), names...),
		Plan:      append([]string(nil), p.order...),
		Results:   make(map[string]TaskResult, len(p.order)),
	}

	done := make(map[string]chan struct{}, len(p.order))
	for _, name := range p.order {
		done[name] = make(chan struct{})
	}

	var mu sync.Mutex
	outcome := func(name string) TaskResult {
		mu.Lock()
		defer mu.Unlock()
		return report.Results[name]
	}

	// failures never cancel siblings, so the group carries no derived context
	var g errgroup.Group
	for _, name := range p.order {
		task, _ := o.graph.Get(name)
		g.Go(func() error {
			defer close(done[task.Name])

			for _, dep := range p.prereqs[task.Name] {
				<-done[dep]
			}

			var blocked string
			for _, dep := range p.prereqs[task.Name] {
				if p.hardDeps[task.Name][dep] && outcome(dep).Status != StatusSucceeded {
					blocked = dep
					break
				}
			}

			var res TaskResult
			switch {
			case blocked != "":
				res = o.skip(task.Name, chain(ErrTaskSkipped, errors.CategoryOperation, "TASK_SKIPPED",
					fmt.Sprintf("task %s skipped: dependency %s did not succeed", task.Name, blocked)))
			case ctx.Err() != nil:
				res = o.skip(task.Name, ctx.Err())
			default:
				res = o.execute(ctx, task)
			}

			mu.Lock()
			report.Results[task.Name] = res
			report.Order = append(report.Order, task.Name)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = o.now().Sub(started)

	o.mx.Lock()
	o.last = &report
	o.mx.Unlock()

	return o.reportError(ctx, report)
}

// RunOnly executes a single task without its dependencies.
func (o *Orchestrator) RunOnly(ctx context.Context, name string) error {
	task, ok := o.graph.Get(name)
	if !ok {
		return badInput(CodeTaskNotFound, fmt.Sprintf("task %s not found", name), map[string]any{"task": name})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res := o.execute(ctx, task)
	if res.Status == StatusFailed {
		return taskFailed([]string{name}, res.Err)
	}
	return nil
}

func (o *Orchestrator) reportError(ctx context.Context, report Report) error {
	failed := report.Failed()
	if len(failed) == 0 {
		if err := ctx.Err(); err != nil {
			for _, res := range report.Results {
				if res.Status == StatusSkipped {
					return err
				}
			}
		}
		return nil
	}
	return taskFailed(failed, report.Results[failed[0]].Err)
}

func taskFailed(failed []string, cause error) error {
	return chain(cause, errors.CategoryOperation, CodeTaskFailed,
		fmt.Sprintf("task failed: %s", strings.Join(failed, ", "))).
		WithMetadata(map[string]any{"failed": failed})
}

func (o *Orchestrator) skip(name string, reason error) TaskResult {
	res := TaskResult{Name: name, Status: StatusSkipped, Err: reason}
	o.emitTaskEvent(TaskEvent{Type: TaskEventSkipped, Task: name, Err: reason})
	return res
}

func (o *Orchestrator) execute(ctx context.Context, task Task) TaskResult {
	release := o.acquire(task.Name)
	defer release()

	o.emitTaskEvent(TaskEvent{Type: TaskEventStarted, Task: task.Name})

	start := o.now()
	err := o.invoke(ctx, task)
	elapsed := o.now().Sub(start)

	if err != nil {
		o.emitTaskEvent(TaskEvent{Type: TaskEventFailed, Task: task.Name, Duration: elapsed, Err: err})
		return TaskResult{Name: task.Name, Status: StatusFailed, Err: err, Duration: elapsed}
	}

	o.emitTaskEvent(TaskEvent{Type: TaskEventCompleted, Task: task.Name, Duration: elapsed})
	return TaskResult{Name: task.Name, Status: StatusSucceeded, Duration: elapsed}
}

func (o *Orchestrator) invoke(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("task %s panicked: %v", task.Name, r), errors.CategoryInternal).
				WithTextCode(CodeTaskPanic).
				WithMetadata(map[string]any{
					"task":  task.Name,
					"stack": string(debug.Stack()),
				})
		}
	}()

	if task.Work == nil {
		return nil
	}
	return task.Work(ctx)
}

// acquire serialises executions of the same task across Run, RunOnly and
// watch triggered runs.
func (o *Orchestrator) acquire(name string) func() {
	o.mx.Lock()
	ch, ok := o.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		o.locks[name] = ch
	}
	o.mx.Unlock()

	ch <- struct{}{}
	return func() { <-ch }
}

// Watch re-runs names, in order and without their dependencies, whenever a
// file selected by set changes. Overlapping changes coalesce into at most one
// queued re-run. Watching stops when ctx is done or on Close.
func (o *Orchestrator) Watch(ctx context.Context, set PathSet, names ...string) error {
	if len(names) == 0 {
		return badInput(CodeWatchFailed, "watch requires at least one task", nil)
	}
	for _, name := range names {
		if _, ok := o.graph.Get(name); !ok {
			return badInput(CodeTaskNotFound, fmt.Sprintf("task %s not found", name), map[string]any{"task": name})
		}
	}

	tasks := append([]string(nil), names...)
	trigger := NewTrigger(func(ctx context.Context) error {
		for _, name := range tasks {
			if err := o.RunOnly(ctx, name); err != nil {
				return err
			}
		}
		return nil
	}, WithTriggerErrorHandler(func(err error) {
		o.logger.Error("watch run failed", "tasks", strings.Join(tasks, ","), "error", err)
	}))

	watcher, err := NewWatcher(o.watchRoot, set, func(changed []string) {
		o.logger.Info("change detected", "files", len(changed), "tasks", strings.Join(tasks, ","))
		trigger.Fire(ctx)
	},
		WithWatcherDebounce(o.watchDebounce),
		WithWatcherLogger(o.loggerProvider.GetLogger("pipeline:watcher")),
	)
	if err != nil {
		return err
	}

	if err := watcher.Start(ctx); err != nil {
		return err
	}

	o.mx.Lock()
	o.watches = append(o.watches, &watch{watcher: watcher, trigger: trigger})
	o.mx.Unlock()

	o.logger.Info("watching", "patterns", strings.Join(set, ","), "tasks", strings.Join(tasks, ","))
	return nil
}

// Watching reports whether any watch is active.
func (o *Orchestrator) Watching() bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	return len(o.watches) > 0
}

// Close stops every watch and waits for in-flight watch runs.
func (o *Orchestrator) Close() error {
	o.mx.Lock()
	watches := o.watches
	o.watches = nil
	o.mx.Unlock()

	var errs []error
	for _, w := range watches {
		if err := w.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
		w.trigger.Wait()
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) emitTaskEvent(event TaskEvent) {
	switch event.Type {
	case TaskEventStarted:
		o.logger.Info("task started", "task", event.Task)
	case TaskEventCompleted:
		o.logger.Info("task completed", "task", event.Task, "duration", event.Duration)
	case TaskEventFailed:
		o.logger.Error("task failed", "task", event.Task, "duration", event.Duration, "error", event.Err)
	case TaskEventSkipped:
		o.logger.Warn("task skipped", "task", event.Task, "reason", event.Err)
	}

	o.mx.Lock()
	handlers := append([]TaskEventHandler(nil), o.taskEventHandlers...)
	o.mx.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
