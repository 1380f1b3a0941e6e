package pipeline

import "time"

// TaskEventType discriminates between task lifecycle events.
type TaskEventType string

const (
	// TaskEventStarted signals that a task's work began.
	TaskEventStarted TaskEventType = "started"
	// TaskEventCompleted signals that a task finished successfully.
	TaskEventCompleted TaskEventType = "completed"
	// TaskEventFailed signals that a task returned an error or panicked.
	TaskEventFailed TaskEventType = "failed"
	// TaskEventSkipped signals that a task did not run because a dependency failed.
	TaskEventSkipped TaskEventType = "skipped"
)

// TaskEvent captures the outcome of one task within an invocation.
type TaskEvent struct {
	Type     TaskEventType
	Task     string
	Duration time.Duration
	Err      error
}

// TaskEventHandler consumes task lifecycle events. Handlers may be called from
// several goroutines at once.
type TaskEventHandler func(TaskEvent)

// TaskEventEmitter components can implement this to publish task events upstream.
type TaskEventEmitter interface {
	AddTaskEventHandler(TaskEventHandler)
}

// TaskStatus is the final state of a task in a Report.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// TaskResult records one task's outcome.
type TaskResult struct {
	Name     string
	Status   TaskStatus
	Err      error
	Duration time.Duration
}

// Report summarises an invocation. Plan lists the tasks of the invocation in
// dependency order, Order lists them in completion order.
type Report struct {
	Requested []string
	Plan      []string
	Order     []string
	Results   map[string]TaskResult
	Duration  time.Duration
}

// Failed returns the names of failed tasks in plan order, which does not
// depend on how concurrent tasks happened to finish.
func (r Report) Failed() []string {
	names := r.Plan
	if len(names) == 0 {
		names = r.Order
	}

	var out []string
	for _, name := range names {
		if r.Results[name].Status == StatusFailed {
			out = append(out, name)
		}
	}
	return out
}

// Ran reports whether name executed its work during the invocation.
func (r Report) Ran(name string) bool {
	res, ok := r.Results[name]
	return ok && res.Status != StatusSkipped
}
