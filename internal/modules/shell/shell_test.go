package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCapturesOutput(t *testing.T) {
	var stream bytes.Buffer
	res, err := Exec{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo out; echo err >&2"},
		Stdout: &stream,
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, "out\n", stream.String())
}

func TestExecEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	res, err := Exec{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $BASTIONBOOT_TEST; pwd"},
		Env:  []string{"BASTIONBOOT_TEST=hello"},
		Dir:  dir,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "hello\n")
	assert.Contains(t, res.Stdout, dir)
}

func TestExecNonZeroExit(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 3, uerr.ExitCode)
	assert.Equal(t, "broken", uerr.Output)
	assert.Equal(t, "sh", uerr.Tool)
	assert.Contains(t, err.Error(), "exit 3")
}

func TestExecMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Command{Name: "bastionboot-no-such-tool"})

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "terraform output -json private_ips", Command{Name: "terraform", Args: []string{"output", "-json", "private_ips"}}.String())
}
