package pipeline

import (
	"context"
	"sync"
)

// Trigger serialises runs of a single function. Firing while a run is in
// flight queues exactly one follow-up run, so bursts of events coalesce into
// at most one extra execution.
type Trigger struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
	pending bool
	runs    int

	run     func(ctx context.Context) error
	onError func(error)
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithTriggerErrorHandler receives errors returned by the triggered function.
func WithTriggerErrorHandler(fn func(error)) TriggerOption {
	return func(t *Trigger) {
		if fn != nil {
			t.onError = fn
		}
	}
}

func NewTrigger(run func(ctx context.Context) error, opts ...TriggerOption) *Trigger {
	t := &Trigger{run: run}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Fire requests a run. It returns true when a new run was started and false
// when the request was folded into the queued follow-up.
func (t *Trigger) Fire(ctx context.Context) bool {
	t.mu.Lock()
	if t.running {
		t.pending = true
		t.mu.Unlock()
		return false
	}
	t.running = true
	t.wg.Add(1)
	t.mu.Unlock()

	go t.loop(ctx)
	return true
}

func (t *Trigger) loop(ctx context.Context) {
	defer t.wg.Done()

	for {
		t.mu.Lock()
		t.runs++
		t.mu.Unlock()

		if err := t.run(ctx); err != nil && t.onError != nil {
			t.onError(err)
		}

		t.mu.Lock()
		if !t.pending || ctx.Err() != nil {
			t.running = false
			t.pending = false
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.mu.Unlock()
	}
}

// Runs returns how many times the function has been started.
func (t *Trigger) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Wait blocks until no run is in flight or queued.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
