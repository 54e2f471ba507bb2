package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/batch"
	"github.com/rileyhilliard/rx/internal/conn"
	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecSimpleCommand(t *testing.T) {
	_, eng := NewTestEngine(t)

	res, err := eng.Run(context.Background(), "echo hello", 0)

	require.NoError(t, err)
	assert.Equal(t, "hello\n\n(exit code: 0)", engine.Render(res))
}

func TestExecExitCodeAndStderr(t *testing.T) {
	_, eng := NewTestEngine(t)

	res, err := eng.Run(context.Background(), "echo out; echo err >&2; exit 42", 0)

	require.NoError(t, err)
	assert.Equal(t, 42, res.ExitCode)
	assert.Equal(t, "out\n\nSTDERR:\nerr\n\n(exit code: 42)", engine.Render(res))
}

func TestExecShellFeatures(t *testing.T) {
	_, eng := NewTestEngine(t)

	res, err := eng.Run(context.Background(), "printf 'a\\nb\\nc\\n' | grep -c . && echo \"$((2+3))\"", 0)

	require.NoError(t, err)
	assert.Equal(t, "3\n5\n", res.Stdout)
}

func TestExecMissingProgram(t *testing.T) {
	_, eng := NewTestEngine(t)

	res, err := eng.Run(context.Background(), "rx-definitely-not-installed --version", 0)

	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
	hint := engine.Diagnose(res, "rx-definitely-not-installed --version", "")
	require.NotNil(t, hint)
	assert.Contains(t, hint.Message, "rx-definitely-not-installed")
}

func TestExecReusesConnection(t *testing.T) {
	manager, eng := NewTestEngine(t)

	_, err := eng.Run(context.Background(), "true", 0)
	require.NoError(t, err)
	first, err := manager.Acquire(context.Background())
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "true", 0)
	require.NoError(t, err)
	second, err := manager.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Generation, second.Generation)
}

func TestExecTimeoutReconnects(t *testing.T) {
	manager, eng := NewTestEngine(t)

	_, err := eng.Run(context.Background(), "sleep 30", 300*time.Millisecond)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout), "got %v", err)
	assert.Equal(t, conn.Disconnected, manager.State())

	res, err := eng.Run(context.Background(), "echo back", 0)
	require.NoError(t, err)
	assert.Equal(t, "back\n", res.Stdout)
}

func TestExecChannelTimeoutKeepsSession(t *testing.T) {
	manager, eng := NewTestEngine(t, engine.WithTimeoutPolicy(engine.PolicyChannel))

	_, err := eng.Run(context.Background(), "sleep 30", 300*time.Millisecond)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout), "got %v", err)
	assert.Equal(t, conn.Ready, manager.State())
}

func TestExecConcurrentCommands(t *testing.T) {
	_, eng := NewTestEngine(t)

	var wg sync.WaitGroup
	outputs := make([]string, 5)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.Run(context.Background(), "echo "+strings.Repeat("x", i+1), 0)
			if assert.NoError(t, err) {
				outputs[i] = strings.TrimSpace(res.Stdout)
			}
		}(i)
	}
	wg.Wait()

	for i, out := range outputs {
		assert.Equal(t, strings.Repeat("x", i+1), out)
	}
}

func TestBatchOverRealHost(t *testing.T) {
	_, eng := NewTestEngine(t)

	orch := batch.NewOrchestrator([]string{"echo one", "false", "echo three"}, eng, batch.Config{MaxParallel: 2})
	result := orch.Run(context.Background())

	require.Len(t, result.Items, 3)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Items[1].Result.ExitCode)
}
