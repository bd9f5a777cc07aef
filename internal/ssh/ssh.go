package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/eniac111/bastionboot/internal/types"
)

// SignerFunc supplies client keys at connection time.
type SignerFunc func() ([]ssh.Signer, error)

// KeyFileSigners loads the deployment key from keyPath, falling back to
// an agent already listening on SSH_AUTH_SOCK when the key can't be used.
func KeyFileSigners(keyPath string) SignerFunc {
	return func() ([]ssh.Signer, error) {
		var signers []ssh.Signer
		var errs []error

		if keyPath != "" {
			key, err := os.ReadFile(keyPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to read SSH key: %w", err))
			} else if signer, err := ssh.ParsePrivateKey(key); err != nil {
				errs = append(errs, fmt.Errorf("failed to parse SSH key: %w", err))
			} else {
				signers = append(signers, signer)
			}
		}

		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" && len(signers) == 0 {
			if conn, err := net.Dial("unix", sock); err == nil {
				defer conn.Close()
				agentSigners, err := agent.NewClient(conn).Signers()
				if err != nil {
					errs = append(errs, fmt.Errorf("SSH agent: %w", err))
				}
				signers = append(signers, agentSigners...)
			} else {
				slog.Debug("Failed to connect to SSH agent", "error", err)
			}
		}

		if len(signers) == 0 {
			errs = append(errs, errors.New("no authentication methods available"))
			return nil, errors.Join(errs...)
		}
		return signers, nil
	}
}

func clientConfig(user string, signers SignerFunc, callback ssh.HostKeyCallback, timeout time.Duration) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(signers)},
		HostKeyCallback: callback,
		Timeout:         timeout,
	}
}

// dial opens a direct SSH connection to addr. ctx bounds both the TCP
// connect and the handshake.
func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return handshake(ctx, conn, addr, config)
}

// dialVia opens an SSH connection to addr tunnelled through jump, the
// equivalent of ssh -J.
func dialVia(ctx context.Context, jump *ssh.Client, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := jump.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s through jump host: %w", addr, err)
	}
	return handshake(ctx, conn, addr, config)
}

func handshake(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func endpointConfig(e types.Endpoint, signers SignerFunc, callback ssh.HostKeyCallback, timeout time.Duration) (string, *ssh.ClientConfig) {
	return e.Addr(), clientConfig(e.User, signers, callback, timeout)
}

// RunCommand executes a command on the remote host via SSH.
func RunCommand(sshClient *ssh.Client, cmd string) (string, string, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(cmd)
	return stdout.String(), stderr.String(), err
}
