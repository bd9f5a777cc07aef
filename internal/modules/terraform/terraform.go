// Package terraform drives the provisioning CLI: apply with credential
// checks, and typed reads of its outputs.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/modules/shell"
	"github.com/eniac111/bastionboot/internal/reach"
)

// Terraform runs the terraform binary in Dir.
type Terraform struct {
	Runner shell.Runner
	Binary string
	Dir    string

	// OutputAttempts bounds retries of output reads, which fail
	// transiently while state is still settling.
	OutputAttempts int
	Backoff        reach.Backoff
	// Settle is the pause after apply before outputs are trusted.
	Settle time.Duration

	ProxyOutput   string
	PrivateOutput string

	// Output receives the live output of init and apply.
	Output io.Writer

	cfg *config.Config
}

// New builds a Terraform from the run configuration.
func New(cfg *config.Config, runner shell.Runner) *Terraform {
	return &Terraform{
		Runner:         runner,
		Binary:         cfg.Terraform.Binary,
		Dir:            cfg.Terraform.Dir,
		OutputAttempts: cfg.Terraform.OutputAttempts,
		Backoff:        reach.Exponential{Initial: 2 * time.Second, Max: 30 * time.Second, Factor: 2},
		Settle:         cfg.Terraform.Settle,
		ProxyOutput:    cfg.Terraform.ProxyOutput,
		PrivateOutput:  cfg.Terraform.PrivateOutput,
		cfg:            cfg,
	}
}

// Apply runs init and apply -auto-approve. Missing credentials fail the
// run before terraform is started.
func (t *Terraform) Apply(ctx context.Context) error {
	var env []string
	if t.cfg != nil {
		if err := t.cfg.ValidateProvisioning(); err != nil {
			return err
		}
		env = t.cfg.CredentialEnv()
	}
	info, err := os.Stat(t.Dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s/ directory not found", t.Dir)
	}

	for _, args := range [][]string{{"init"}, {"apply", "-auto-approve"}} {
		slog.Info("Running terraform", "args", strings.Join(args, " "), "dir", t.Dir)
		cmd := shell.Command{Name: t.Binary, Args: args, Dir: t.Dir, Env: env, Stdout: t.Output, Stderr: t.Output}
		if _, err := t.Runner.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if t.Settle > 0 {
		slog.Info("Waiting for resources to stabilize", "delay", t.Settle)
		if err := sleep(ctx, t.Settle); err != nil {
			return err
		}
	}
	slog.Info("Terraform apply completed successfully")
	return nil
}

// Raw returns a string output as terraform output -raw prints it.
func (t *Terraform) Raw(ctx context.Context, name string) (string, error) {
	out, err := t.output(ctx, "-raw", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// JSON decodes a structured output into v.
func (t *Terraform) JSON(ctx context.Context, name string, v any) error {
	out, err := t.output(ctx, "-json", name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("decode terraform output %s: %w", name, err)
	}
	return nil
}

// Hosts reads the proxy address and the private address list.
func (t *Terraform) Hosts(ctx context.Context) (string, []string, error) {
	proxy, err := t.Raw(ctx, t.ProxyOutput)
	if err != nil {
		return "", nil, err
	}
	var private []string
	if err := t.JSON(ctx, t.PrivateOutput, &private); err != nil {
		return "", nil, err
	}
	return proxy, private, nil
}

// ImportCommands renders the terraform import commands that rebuild state
// for the instances and VPC of an existing deployment.
func (t *Terraform) ImportCommands(ctx context.Context) ([]string, error) {
	var ids []json.RawMessage
	if err := t.JSON(ctx, "instance_ids", &ids); err != nil {
		return nil, err
	}
	proxyID, err := t.Raw(ctx, "proxy_id")
	if err != nil {
		return nil, err
	}
	vpcID, err := t.Raw(ctx, "vpc_id")
	if err != nil {
		return nil, err
	}

	var lines []string
	for i, id := range ids {
		lines = append(lines, fmt.Sprintf(`terraform import "linode_instance.private[%d]" %s`, i, strings.Trim(string(id), `"`)))
	}
	lines = append(lines,
		fmt.Sprintf(`terraform import "linode_instance.proxy" %s`, proxyID),
		fmt.Sprintf(`terraform import "linode_vpc.private" %s`, vpcID),
	)
	return lines, nil
}

func (t *Terraform) output(ctx context.Context, format, name string) (string, error) {
	attempts := t.OutputAttempts
	if attempts < 1 {
		attempts = 1
	}
	cmd := shell.Command{Name: t.Binary, Args: []string{"-chdir=" + t.Dir, "output", format, name}}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := t.Runner.Run(ctx, cmd)
		if err == nil {
			return res.Stdout, nil
		}
		last = err

		var uerr *shell.UpstreamError
		if !errors.As(err, &uerr) || attempt == attempts {
			break
		}
		var delay time.Duration
		if t.Backoff != nil {
			delay = t.Backoff.Delay(attempt)
		}
		slog.Warn("Terraform output not available yet", "output", name, "attempt", attempt, "retry_in", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return "", errors.Join(last, err)
		}
	}
	return "", last
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
