// Package ansible hands a bootstrapped fleet over to ansible-playbook.
package ansible

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/modules/shell"
)

type Playbook struct {
	Runner    shell.Runner
	Binary    string
	Path      string
	Verbosity int
	ExtraArgs []string
	// Output receives the live playbook output.
	Output io.Writer
}

func New(cfg config.AnsibleConfig, runner shell.Runner) *Playbook {
	return &Playbook{
		Runner:    runner,
		Binary:    cfg.Binary,
		Path:      cfg.Playbook,
		Verbosity: cfg.Verbosity,
		ExtraArgs: cfg.ExtraArgs,
	}
}

// Args builds the ansible-playbook argument list. An empty limit runs
// against the whole inventory.
func (p *Playbook) Args(inventoryPath, user string, limit []string) []string {
	args := []string{p.Path, "-i", inventoryPath, "-u", user}
	if p.Verbosity > 0 {
		args = append(args, "-"+strings.Repeat("v", p.Verbosity))
	}
	if len(limit) > 0 {
		args = append(args, "--limit", strings.Join(limit, ","))
	}
	return append(args, p.ExtraArgs...)
}

// Run executes the playbook with SSH_AUTH_SOCK pointing at agentSocket.
func (p *Playbook) Run(ctx context.Context, inventoryPath, user, agentSocket string, limit []string) error {
	if user == "" {
		return errors.New("ansible user is not set")
	}
	cmd := shell.Command{
		Name:   p.Binary,
		Args:   p.Args(inventoryPath, user, limit),
		Stdout: p.Output,
		Stderr: p.Output,
	}
	if agentSocket != "" {
		cmd.Env = []string{"SSH_AUTH_SOCK=" + agentSocket}
	}

	slog.Info("Running playbook", "playbook", p.Path, "inventory", inventoryPath, "limit", strings.Join(limit, ","))
	if _, err := p.Runner.Run(ctx, cmd); err != nil {
		return err
	}
	slog.Info("Playbook finished", "playbook", p.Path)
	return nil
}
