package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
)

func TestTrigger_CoalescesBurstIntoOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs int32

	trigger := pipeline.NewTrigger(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	})

	assert.True(t, trigger.Fire(context.Background()))
	<-started

	for i := 0; i < 5; i++ {
		assert.False(t, trigger.Fire(context.Background()))
	}

	close(release)
	trigger.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
	assert.Equal(t, 2, trigger.Runs())
}

func TestTrigger_ReportsErrors(t *testing.T) {
	var got error
	trigger := pipeline.NewTrigger(func(context.Context) error {
		return errors.New("bundle broken")
	}, pipeline.WithTriggerErrorHandler(func(err error) { got = err }))

	trigger.Fire(context.Background())
	trigger.Wait()

	assert.EqualError(t, got, "bundle broken")
}

func TestTrigger_RestartsAfterIdle(t *testing.T) {
	var runs int32
	trigger := pipeline.NewTrigger(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	assert.True(t, trigger.Fire(context.Background()))
	trigger.Wait()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, trigger.Fire(context.Background()))
	trigger.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}
