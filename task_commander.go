package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-command/router"
	"github.com/goliatone/go-errors"
)

// RunMessage asks a pipeline to run tasks.
type RunMessage struct {
	command.BaseMessage
	// Tasks to run. Empty means the task the commander is registered for.
	Tasks []string
	// Only skips dependencies and runs Tasks one after the other.
	Only bool
}

// Type returns the message type for the command system
func (msg RunMessage) Type() string {
	return "pipeline:run"
}

// Validate ensures the message contains required fields
func (msg RunMessage) Validate() error {
	for _, name := range msg.Tasks {
		if strings.TrimSpace(name) == "" {
			return command.WrapError("InvalidRunMessage", "task name cannot be empty", nil)
		}
	}
	return nil
}

// TaskCommander adapts a pipeline task to the command.Commander interface.
type TaskCommander struct {
	pipeline *Pipeline
	task     string
}

func NewTaskCommander(p *Pipeline, task string) *TaskCommander {
	return &TaskCommander{pipeline: p, task: task}
}

func (c *TaskCommander) Execute(ctx context.Context, msg *RunMessage) error {
	if msg == nil {
		return errors.New("run message required", errors.CategoryBadInput).
			WithTextCode("RUN_MSG_NIL")
	}
	if err := msg.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid run message").
			WithTextCode("RUN_MSG_INVALID")
	}
	if c == nil || c.pipeline == nil {
		return errors.New("pipeline not configured", errors.CategoryInternal).
			WithTextCode("RUN_PIPELINE_MISSING")
	}

	names := msg.Tasks
	if len(names) == 0 && c.task != "" {
		names = []string{c.task}
	}

	if !msg.Only {
		return c.pipeline.Run(ctx, names...)
	}
	for _, name := range names {
		if err := c.pipeline.RunOnly(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// TaskCommandPattern builds a mux pattern for the task commander.
func TaskCommandPattern(task string) string {
	return fmt.Sprintf("%s/%s", RunMessage{}.Type(), task)
}

// RegisterTasksWithMux registers a commander for every task of p and returns
// the subscriptions for later teardown.
func RegisterTasksWithMux(mux *router.Mux, p *Pipeline) []router.Subscription {
	if mux == nil || p == nil {
		return nil
	}
	names := p.Graph().Names()
	entries := make([]router.Subscription, 0, len(names))
	for _, name := range names {
		entry := mux.Add(TaskCommandPattern(name), NewTaskCommander(p, name))
		entries = append(entries, entry)
	}
	return entries
}
