package ssh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/eniac111/bastionboot/internal/types"
)

const probeCommand = "echo ok"

// Prober checks that a private host accepts an authenticated session
// through the proxy. Both legs verify host keys against the trust store.
type Prober struct {
	Signers  SignerFunc
	HostKeys HostKeyCallbackFunc
	// CheckSFTP additionally opens the SFTP subsystem, which the
	// configuration-management run uses to transfer its modules.
	CheckSFTP bool
}

// Probe implements reach.Prober.
func (p *Prober) Probe(ctx context.Context, via, target types.Endpoint, timeout time.Duration) error {
	if p.HostKeys == nil || p.Signers == nil {
		return errors.New("prober needs signers and a host key callback")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callback, err := p.HostKeys()
	if err != nil {
		return err
	}

	addr, config := endpointConfig(via, p.Signers, callback, timeout)
	jump, err := dial(ctx, addr, config)
	if err != nil {
		return fmt.Errorf("proxy %s: %w", via, err)
	}
	defer jump.Close()
	stop := context.AfterFunc(ctx, func() { jump.Close() })
	defer stop()

	addr, config = endpointConfig(target, p.Signers, callback, timeout)
	client, err := dialVia(ctx, jump, addr, config)
	if err != nil {
		return err
	}
	defer client.Close()

	stdout, stderr, err := RunCommand(client, probeCommand)
	if err != nil {
		return fmt.Errorf("%s: %q: %w (%s)", target, probeCommand, err, strings.TrimSpace(stderr))
	}
	if strings.TrimSpace(stdout) != "ok" {
		return fmt.Errorf("%s: unexpected probe output %q", target, stdout)
	}

	if p.CheckSFTP {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return fmt.Errorf("%s: sftp: %w", target, err)
		}
		defer sc.Close()
		if _, err := sc.Getwd(); err != nil {
			return fmt.Errorf("%s: sftp: %w", target, err)
		}
	}
	return nil
}
