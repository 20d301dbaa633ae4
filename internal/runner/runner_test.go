package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), "echo hello", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), "exit 3", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRun_Timeout(t *testing.T) {
	res, err := Run(context.Background(), "sleep 10", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
}

func TestRun_CapturesStderr(t *testing.T) {
	res, err := Run(context.Background(), "echo oops 1>&2", time.Second)
	require.NoError(t, err)
	assert.True(t, strings.Contains(res.Stderr, "oops"))
}
