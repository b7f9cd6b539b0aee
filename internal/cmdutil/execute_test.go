package cmdutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteContext(t *testing.T) {
	out, err := ExecuteContext(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestExecuteContextCapturesStderr(t *testing.T) {
	_, err := ExecuteContext(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestExecuteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecuteContext(ctx, "sh", "-c", "sleep 5")
	require.Error(t, err)
}

func TestRunnerFunc(t *testing.T) {
	var got []string
	r := RunnerFunc(func(_ context.Context, command string, args ...string) (string, error) {
		got = append([]string{command}, args...)
		return "ok", nil
	})
	out, err := r.Run(context.Background(), "qemu-img", "info", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"qemu-img", "info", "x"}, got)
}
