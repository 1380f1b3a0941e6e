package pipeline_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployTrigger_Success(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	deploy := pipeline.NewDeployTrigger(dir, pipeline.DeployConfig{
		Command: "echo deployed $TARGET && pwd",
		Env:     map[string]string{"TARGET": "prod"},
	}, nil, pipeline.WithShellOutput(&out))

	require.NoError(t, deploy.Run(context.Background()))
	assert.Contains(t, out.String(), "deployed prod")

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, out.String(), resolved)
}

func TestDeployTrigger_NonZeroExit(t *testing.T) {
	deploy := pipeline.NewDeployTrigger(t.TempDir(), pipeline.DeployConfig{
		Command: "echo nope >&2; exit 3",
	}, nil)

	err := deploy.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeDeployFailed))
}

func TestDeployTrigger_Timeout(t *testing.T) {
	deploy := pipeline.NewDeployTrigger(t.TempDir(), pipeline.DeployConfig{
		Command: "sleep 5",
		Timeout: 100 * time.Millisecond,
	}, nil)

	start := time.Now()
	err := deploy.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeDeployFailed))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestDeployTrigger_IgnoresCancellationOnceStarted(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	deploy := pipeline.NewDeployTrigger(dir, pipeline.DeployConfig{
		Command: "sleep 0.2 && touch done",
	}, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, deploy.Run(ctx))
	_, err := os.Stat(filepath.Join(dir, "done"))
	assert.NoError(t, err)
}

func TestShellRunner_CapturesOutput(t *testing.T) {
	runner := pipeline.NewShellRunner()

	result, err := runner.Run(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)

	_, err = runner.Run(context.Background(), "  ")
	assert.Error(t, err)
}
