package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/eniac111/bastionboot/internal/trust"
	"github.com/eniac111/bastionboot/internal/truststore"
	"github.com/eniac111/bastionboot/internal/types"
)

func staticSigners(s ssh.Signer) SignerFunc {
	return func() ([]ssh.Signer, error) { return []ssh.Signer{s}, nil }
}

func trustStore(t *testing.T, servers ...*testServer) *truststore.Store {
	t.Helper()
	store, err := truststore.Open(filepath.Join(t.TempDir(), "known_hosts"), truststore.Options{})
	require.NoError(t, err)
	for _, s := range servers {
		require.NoError(t, store.Append([]types.KeyRecord{{
			Host: s.endpoint.Addr(),
			Type: s.hostKey.Type(),
			Key:  s.hostKey.Marshal(),
		}}))
	}
	return store
}

func TestKeyScannerDirect(t *testing.T) {
	srv := startServer(t, nil)
	scanner := &KeyScanner{Timeout: 2 * time.Second}

	records, err := scanner.ScanHostKeys(context.Background(), srv.endpoint, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, srv.hostKey.Marshal(), records[0].Key)
	assert.Equal(t, ssh.KeyAlgoED25519, records[0].Type)
	assert.Equal(t, srv.endpoint.Addr(), records[0].Host)
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestKeyScannerUnreachableYieldsNoRecords(t *testing.T) {
	scanner := &KeyScanner{Timeout: time.Second}
	records, err := scanner.ScanHostKeys(context.Background(), types.Endpoint{Host: "127.0.0.1", Port: closedPort(t)}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

type countingDialer struct {
	dials int
}

func (c *countingDialer) connect(ctx context.Context) (net.Conn, error) {
	c.dials++
	return nil, errors.New("connection refused")
}

func TestKeyScannerStopsAfterDialFailure(t *testing.T) {
	scanner := &KeyScanner{Timeout: time.Second}
	d := &countingDialer{}
	records, err := scanner.scanAll(context.Background(), d.connect, types.Endpoint{Host: "10.0.1.9"}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, d.dials)
}

// fixedPortScanner scans whatever host it is asked for on a fixed port.
type fixedPortScanner struct {
	*KeyScanner
	port int
}

func (s fixedPortScanner) ScanHostKeys(ctx context.Context, target types.Endpoint, via *types.Endpoint) ([]types.KeyRecord, error) {
	target.Port = s.port
	return s.KeyScanner.ScanHostKeys(ctx, target, via)
}

func TestTrustUnreachableHostIsNotAFailure(t *testing.T) {
	store := trustStore(t)
	addr := types.Endpoint{Host: "127.0.0.1"}.Addr()
	stale := newSigner(t).PublicKey()
	require.NoError(t, store.Append([]types.KeyRecord{{Host: addr, Type: stale.Type(), Key: stale.Marshal()}}))

	mgr := trust.NewManager(store, fixedPortScanner{KeyScanner: &KeyScanner{Timeout: time.Second}, port: closedPort(t)})
	n, err := mgr.EstablishDirectTrust(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.Lookup(addr)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKeyScannerViaJump(t *testing.T) {
	client := newSigner(t)
	proxy := startServer(t, client.PublicKey())
	target := startServer(t, client.PublicKey())
	store := trustStore(t, proxy)

	scanner := &KeyScanner{
		Signers:      staticSigners(client),
		JumpHostKeys: store.HostKeyCallback,
		Timeout:      2 * time.Second,
	}
	records, err := scanner.ScanHostKeys(context.Background(), target.endpoint, &proxy.endpoint)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, target.hostKey.Marshal(), records[0].Key)
}

func TestKeyScannerViaUntrustedJump(t *testing.T) {
	client := newSigner(t)
	proxy := startServer(t, client.PublicKey())
	target := startServer(t, client.PublicKey())
	store := trustStore(t)

	scanner := &KeyScanner{
		Signers:      staticSigners(client),
		JumpHostKeys: store.HostKeyCallback,
		Timeout:      2 * time.Second,
	}
	_, err := scanner.ScanHostKeys(context.Background(), target.endpoint, &proxy.endpoint)
	assert.Error(t, err, "an unknown jump host must not be used")
}

func TestProber(t *testing.T) {
	client := newSigner(t)
	proxy := startServer(t, client.PublicKey())
	target := startServer(t, client.PublicKey())
	store := trustStore(t, proxy, target)

	for _, checkSFTP := range []bool{false, true} {
		p := &Prober{Signers: staticSigners(client), HostKeys: store.HostKeyCallback, CheckSFTP: checkSFTP}
		err := p.Probe(context.Background(), proxy.endpoint, target.endpoint, 2*time.Second)
		assert.NoError(t, err, "sftp=%v", checkSFTP)
	}
}

func TestProberVerifiesTargetHostKey(t *testing.T) {
	client := newSigner(t)
	proxy := startServer(t, client.PublicKey())
	target := startServer(t, client.PublicKey())
	store := trustStore(t, proxy)

	p := &Prober{Signers: staticSigners(client), HostKeys: store.HostKeyCallback}
	err := p.Probe(context.Background(), proxy.endpoint, target.endpoint, 2*time.Second)
	assert.Error(t, err)
}

func TestProberRejectedKey(t *testing.T) {
	client := newSigner(t)
	proxy := startServer(t, client.PublicKey())
	target := startServer(t, newSigner(t).PublicKey())
	store := trustStore(t, proxy, target)

	p := &Prober{Signers: staticSigners(client), HostKeys: store.HostKeyCallback}
	err := p.Probe(context.Background(), proxy.endpoint, target.endpoint, 2*time.Second)
	assert.Error(t, err)
}

func writeKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "deploy")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path, priv
}

func TestAgent(t *testing.T) {
	path, priv := writeKey(t)

	a, err := StartAgent(path)
	require.NoError(t, err)

	signers, err := a.Signers()
	require.NoError(t, err)
	require.Len(t, signers, 1)
	want, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	assert.Equal(t, want.PublicKey().Marshal(), signers[0].PublicKey().Marshal())

	conn, err := net.Dial("unix", a.Socket())
	require.NoError(t, err)
	keys, err := agent.NewClient(conn).List()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	conn.Close()

	require.NoError(t, a.Close())
	_, err = os.Stat(filepath.Dir(a.Socket()))
	assert.True(t, os.IsNotExist(err))
}

func TestAgentBadKey(t *testing.T) {
	_, err := StartAgent("")
	assert.Error(t, err)

	_, err = StartAgent(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	_, err = StartAgent(garbage)
	assert.Error(t, err)
}

func TestKeyFileSigners(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	path, _ := writeKey(t)

	signers, err := KeyFileSigners(path)()
	require.NoError(t, err)
	assert.Len(t, signers, 1)

	_, err = KeyFileSigners(filepath.Join(t.TempDir(), "missing"))()
	assert.Error(t, err)
}
