package ssh

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Agent holds the deployment key in memory for the duration of a run and
// serves it on a private unix socket, so child processes can use it
// through SSH_AUTH_SOCK.
type Agent struct {
	keyring agent.Agent
	dir     string
	socket  string
	ln      net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// StartAgent loads the private key at keyPath and starts serving it.
func StartAgent(keyPath string) (*Agent, error) {
	if keyPath == "" {
		return nil, errors.New("deployment key path is empty")
	}
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	raw, err := ssh.ParseRawPrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key %s: %w", keyPath, err)
	}

	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: raw, Comment: filepath.Base(keyPath)}); err != nil {
		return nil, fmt.Errorf("add key to agent: %w", err)
	}

	dir, err := os.MkdirTemp("", "bastionboot-agent-")
	if err != nil {
		return nil, fmt.Errorf("agent socket dir: %w", err)
	}
	socket := filepath.Join(dir, "agent.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("listen on agent socket: %w", err)
	}

	a := &Agent{
		keyring: keyring,
		dir:     dir,
		socket:  socket,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}
	a.wg.Add(1)
	go a.serve()
	slog.Info("SSH agent started", "socket", socket)
	return a, nil
}

// Socket is the value to export as SSH_AUTH_SOCK.
func (a *Agent) Socket() string { return a.socket }

// Signers returns the keys held by the agent.
func (a *Agent) Signers() ([]ssh.Signer, error) {
	return a.keyring.Signers()
}

// Close stops serving, drops open client connections and removes the
// socket directory.
func (a *Agent) Close() error {
	err := a.ln.Close()
	a.mu.Lock()
	a.closed = true
	for c := range a.conns {
		c.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
	_ = a.keyring.RemoveAll()
	if rmErr := os.RemoveAll(a.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	slog.Debug("SSH agent stopped", "socket", a.socket)
	return err
}

func (a *Agent) serve() {
	defer a.wg.Done()
	for {
		c, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			c.Close()
			return
		}
		a.conns[c] = struct{}{}
		a.mu.Unlock()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			_ = agent.ServeAgent(a.keyring, c)
			c.Close()
			a.mu.Lock()
			delete(a.conns, c)
			a.mu.Unlock()
		}()
	}
}
