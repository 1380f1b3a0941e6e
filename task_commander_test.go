package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-command/router"
	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTasksWithMuxCreatesCommanders(t *testing.T) {
	root := t.TempDir()
	p, err := pipeline.New(root, projectConfig(), quietLogs())
	require.NoError(t, err)
	defer p.Close()

	mux := router.NewMux()
	subs := pipeline.RegisterTasksWithMux(mux, p)
	require.Len(t, subs, len(pipeline.BuiltinTasks()))

	entries := mux.Get(pipeline.TaskCommandPattern(pipeline.TaskTemplates))
	require.Len(t, entries, 1)

	cmd, ok := entries[0].Handler.(command.Commander[*pipeline.RunMessage])
	require.True(t, ok)

	require.NoError(t, cmd.Execute(context.Background(), &pipeline.RunMessage{}))
	assert.FileExists(t, filepath.Join(root, "templates.js"))

	report, ok := p.LastReport()
	require.True(t, ok)
	assert.Equal(t, []string{"templates"}, report.Requested)
}

func TestTaskCommander_OnlySkipsDependencies(t *testing.T) {
	root := t.TempDir()
	p, err := pipeline.New(root, projectConfig(), quietLogs())
	require.NoError(t, err)
	defer p.Close()

	cmd := pipeline.NewTaskCommander(p, pipeline.TaskProduction)
	require.NoError(t, cmd.Execute(context.Background(), &pipeline.RunMessage{
		Tasks: []string{pipeline.TaskScripts},
		Only:  true,
	}))

	assert.FileExists(t, filepath.Join(p.Dist(), "js/bundle.js"))
	assert.NoFileExists(t, filepath.Join(root, "templates.js"))
	assert.NoFileExists(t, filepath.Join(p.Dist(), "js/vendor.js"))
}

func TestTaskCommander_RejectsBadMessages(t *testing.T) {
	p, err := pipeline.New(t.TempDir(), projectConfig(), quietLogs())
	require.NoError(t, err)
	defer p.Close()

	cmd := pipeline.NewTaskCommander(p, pipeline.TaskClean)

	err = cmd.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, "RUN_MSG_NIL"))

	err = cmd.Execute(context.Background(), &pipeline.RunMessage{Tasks: []string{" "}})
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, "RUN_MSG_INVALID"))

	err = cmd.Execute(context.Background(), &pipeline.RunMessage{Tasks: []string{"lint"}})
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeTaskNotFound))

	assert.Equal(t, "pipeline:run", pipeline.RunMessage{}.Type())
	assert.Equal(t, "pipeline:run/clean", pipeline.TaskCommandPattern(pipeline.TaskClean))
}
