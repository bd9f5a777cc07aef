package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/eniac111/bastionboot/internal/types"
)

// ScanAlgorithms are the host key algorithms requested, one handshake
// each, in the order ssh-keyscan reports them.
var ScanAlgorithms = []string{
	ssh.KeyAlgoRSASHA512,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoED25519,
}

const scanUser = "keyscan"

var errKeyCaptured = errors.New("host key captured")

// HostKeyCallbackFunc returns the callback used to verify jump hosts.
type HostKeyCallbackFunc func() (ssh.HostKeyCallback, error)

// KeyScanner collects the host keys a server presents, without
// authenticating to it. Scans through a jump host authenticate to and
// verify the jump host itself.
type KeyScanner struct {
	// Signers authenticate to the jump host.
	Signers SignerFunc
	// JumpHostKeys verifies the jump host; normally the trust store.
	JumpHostKeys HostKeyCallbackFunc
	Timeout      time.Duration
}

// ScanHostKeys implements trust.Scanner. A target that cannot be
// connected to yields no records and no error; failures reaching the jump
// host are errors.
func (s *KeyScanner) ScanHostKeys(ctx context.Context, target types.Endpoint, via *types.Endpoint) ([]types.KeyRecord, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout*time.Duration(len(ScanAlgorithms)+1))
	defer cancel()

	connect := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", target.Addr())
	}

	if via != nil {
		if s.JumpHostKeys == nil || s.Signers == nil {
			return nil, errors.New("scan through jump host needs signers and a host key callback")
		}
		callback, err := s.JumpHostKeys()
		if err != nil {
			return nil, err
		}
		addr, config := endpointConfig(*via, s.Signers, callback, timeout)
		jump, err := dial(ctx, addr, config)
		if err != nil {
			return nil, fmt.Errorf("jump host %s: %w", via, err)
		}
		defer jump.Close()
		connect = func(ctx context.Context) (net.Conn, error) {
			return jump.DialContext(ctx, "tcp", target.Addr())
		}
	}

	return s.scanAll(ctx, connect, target, timeout)
}

// scanAll runs one handshake per algorithm in ScanAlgorithms.
func (s *KeyScanner) scanAll(ctx context.Context, connect func(context.Context) (net.Conn, error), target types.Endpoint, timeout time.Duration) ([]types.KeyRecord, error) {
	var records []types.KeyRecord
	var failures []error
	for _, algo := range ScanAlgorithms {
		key, err := s.scanOne(ctx, connect, target.Addr(), algo, timeout)
		var derr *dialError
		if errors.As(err, &derr) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("scan %s: %w", target.Addr(), ctx.Err())
			}
			// Every other algorithm would dial the same closed port.
			slog.Warn("Host unreachable during key scan", "host", target.Host, "error", derr.Err)
			break
		}
		if err != nil {
			failures = append(failures, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if key == nil || containsKey(records, key) {
			continue
		}
		records = append(records, types.KeyRecord{Host: target.Addr(), Type: key.Type(), Key: key.Marshal()})
	}

	if len(records) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	if len(failures) > 0 {
		slog.Debug("Partial host key scan", "host", target.Host, "errors", errors.Join(failures...))
	}
	return records, nil
}

// dialError is a target that could not be connected to at all. A scan
// that hits it yields no records rather than an error, the way
// ssh-keyscan prints nothing for a host that is down.
type dialError struct {
	Addr string
	Err  error
}

func (e *dialError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *dialError) Unwrap() error {
	return e.Err
}

// scanOne handshakes offering only algo and captures the key presented.
// A nil key with nil error means the server has no key of that type.
func (s *KeyScanner) scanOne(ctx context.Context, connect func(context.Context) (net.Conn, error), addr, algo string, timeout time.Duration) (ssh.PublicKey, error) {
	conn, err := connect(ctx)
	if err != nil {
		return nil, &dialError{Addr: addr, Err: err}
	}
	defer conn.Close()

	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User:              scanUser,
		HostKeyAlgorithms: []string{algo},
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
		Timeout: timeout,
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	_, _, _, err = ssh.NewClientConn(conn, addr, config)
	if captured != nil {
		return captured, nil
	}
	if err != nil && strings.Contains(err.Error(), "no common algorithm") {
		return nil, nil
	}
	if err == nil {
		return nil, fmt.Errorf("%s: handshake completed without a host key", addr)
	}
	return nil, fmt.Errorf("%s (%s): %w", addr, algo, err)
}

func containsKey(records []types.KeyRecord, key ssh.PublicKey) bool {
	raw := key.Marshal()
	for _, r := range records {
		if bytes.Equal(r.Key, raw) {
			return true
		}
	}
	return false
}
