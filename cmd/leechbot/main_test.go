package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pokerjest/animeleech/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitRestart, exitCode(worker.ErrRestartRequested))
	assert.Equal(t, exitRestart, exitCode(fmt.Errorf("run: %w", worker.ErrRestartRequested)))
	assert.Equal(t, 1, exitCode(context.Canceled))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "leechbot dev\n", out.String())
}

func TestSweepCommand(t *testing.T) {
	t.Setenv("LEECH_DOWNLOAD_ROOT", t.TempDir())
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sweep"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "killed: 0")
	assert.Contains(t, out.String(), "removed: 0")
}
