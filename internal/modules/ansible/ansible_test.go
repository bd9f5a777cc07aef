package ansible

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/modules/shell"
)

type recordingRunner struct {
	cmds []shell.Command
	err  error
}

func (r *recordingRunner) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	r.cmds = append(r.cmds, cmd)
	return shell.Result{}, r.err
}

func newPlaybook(r shell.Runner) *Playbook {
	return New(config.AnsibleConfig{Binary: "ansible-playbook", Playbook: "ansible/site.yaml", Verbosity: 2}, r)
}

func TestRunFullInventory(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, newPlaybook(r).Run(context.Background(), "ansible/inventory/hosts.ini", "funmicra", "/tmp/agent.sock", nil))

	require.Len(t, r.cmds, 1)
	assert.Equal(t, "ansible-playbook", r.cmds[0].Name)
	assert.Equal(t, []string{"ansible/site.yaml", "-i", "ansible/inventory/hosts.ini", "-u", "funmicra", "-vv"}, r.cmds[0].Args)
	assert.Equal(t, []string{"SSH_AUTH_SOCK=/tmp/agent.sock"}, r.cmds[0].Env)
}

func TestRunWithLimit(t *testing.T) {
	r := &recordingRunner{}
	require.NoError(t, newPlaybook(r).Run(context.Background(), "hosts.ini", "funmicra", "", []string{"10.0.1.1", "10.0.1.3"}))

	require.Len(t, r.cmds, 1)
	assert.Equal(t, []string{"ansible/site.yaml", "-i", "hosts.ini", "-u", "funmicra", "-vv", "--limit", "10.0.1.1,10.0.1.3"}, r.cmds[0].Args)
	assert.Empty(t, r.cmds[0].Env)
}

func TestRunPropagatesFailure(t *testing.T) {
	r := &recordingRunner{err: &shell.UpstreamError{Tool: "ansible-playbook", ExitCode: 2, Output: "UNREACHABLE"}}
	err := newPlaybook(r).Run(context.Background(), "hosts.ini", "funmicra", "", nil)

	var uerr *shell.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 2, uerr.ExitCode)
}

func TestRunRequiresUser(t *testing.T) {
	r := &recordingRunner{}
	assert.Error(t, newPlaybook(r).Run(context.Background(), "hosts.ini", "", "", nil))
	assert.Empty(t, r.cmds)
}

func TestArgsExtra(t *testing.T) {
	p := &Playbook{Path: "site.yaml", ExtraArgs: []string{"--diff"}}
	assert.Equal(t, []string{"site.yaml", "-i", "inv", "-u", "u", "--diff"}, p.Args("inv", "u", nil))
}
