package main

import (
	"context"
	"fmt"
	"os"

	"github.com/eniac111/bastionboot/internal/bootstrap"
	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/modules/ansible"
	"github.com/eniac111/bastionboot/internal/modules/shell"
	"github.com/eniac111/bastionboot/internal/modules/terraform"
	"github.com/eniac111/bastionboot/internal/reach"
	bssh "github.com/eniac111/bastionboot/internal/ssh"
	"github.com/eniac111/bastionboot/internal/trust"
	"github.com/eniac111/bastionboot/internal/truststore"
)

func probePolicy(p config.ProbeConfig) (reach.Policy, error) {
	policy := reach.Policy{
		MaxAttempts:    p.MaxAttempts,
		Timeout:        p.Timeout,
		AttemptTimeout: p.AttemptTimeout,
	}
	switch p.Backoff {
	case "", "constant":
		policy.Backoff = reach.Constant(p.Interval)
	case "exponential":
		policy.Backoff = reach.Exponential{Initial: p.Interval, Max: p.MaxInterval, Factor: 2}
	default:
		return reach.Policy{}, fmt.Errorf("unknown probe backoff %q", p.Backoff)
	}
	return policy, nil
}

func openTrustStore(c *config.Config) (*truststore.Store, error) {
	return truststore.Open(c.TrustStore.Path, truststore.Options{
		Owner:      c.TrustStore.Owner,
		Group:      c.TrustStore.Group,
		PlainHosts: c.TrustStore.PlainHosts,
	})
}

// newTrustManager scans through the proxy with the deployment key file;
// the agent is not running yet when private hosts are trusted.
func newTrustManager(c *config.Config, store *truststore.Store) *trust.Manager {
	scanner := &bssh.KeyScanner{
		Signers:      bssh.KeyFileSigners(c.Deploy.KeyPath),
		JumpHostKeys: store.HostKeyCallback,
		Timeout:      c.Probe.ScanTimeout,
	}
	return trust.NewManager(store, scanner)
}

func newTerraform(c *config.Config) *terraform.Terraform {
	tf := terraform.New(c, shell.Exec{})
	tf.Output = os.Stdout
	return tf
}

func newPlaybook(c *config.Config) *ansible.Playbook {
	pb := ansible.New(c.Ansible, shell.Exec{})
	pb.Output = os.Stdout
	return pb
}

func startAgent(c *config.Config) func(context.Context) (bootstrap.Agent, error) {
	return func(context.Context) (bootstrap.Agent, error) {
		if err := c.ValidateDeploy(); err != nil {
			return nil, err
		}
		return bssh.StartAgent(c.Deploy.KeyPath)
	}
}

func newProber(c *config.Config, store *truststore.Store) func(bootstrap.Agent) reach.Prober {
	return func(a bootstrap.Agent) reach.Prober {
		return &bssh.Prober{
			Signers:   a.Signers,
			HostKeys:  store.HostKeyCallback,
			CheckSFTP: c.Probe.SFTP,
		}
	}
}
