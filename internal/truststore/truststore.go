// Package truststore manages the known_hosts file that holds the host
// keys accepted for the fleet.
//
// Records are only ever appended, after any stale record for the same
// host has been removed. Every mutation holds both a process-local mutex
// and an advisory flock on a sidecar lock file, so concurrent trust
// operations from this process or a parallel run never interleave.
package truststore

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sys/unix"

	"github.com/eniac111/bastionboot/internal/modules/file"
	"github.com/eniac111/bastionboot/internal/types"
)

const (
	defaultFileMode os.FileMode = 0o600
	defaultDirMode  os.FileMode = 0o700

	// maxLineSize bounds a single known_hosts line; certificate and
	// RSA-8192 records run well past bufio's 64 KiB default.
	maxLineSize = 1 << 20
)

// Options control ownership hardening and record format.
type Options struct {
	// Owner and Group name the service account the file belongs to.
	// Empty leaves ownership alone.
	Owner string
	Group string

	FileMode os.FileMode
	DirMode  os.FileMode

	// PlainHosts writes hostnames in clear text instead of hashing them.
	PlainHosts bool
}

// Store is a known_hosts file.
type Store struct {
	path string
	opts Options
	mu   sync.Mutex
}

// Open prepares the store at path: the containing directory is created
// if missing, and the file and its sidecar lock file are created empty if
// absent. Ownership is applied to all three.
func Open(path string, opts Options) (*Store, error) {
	if opts.FileMode == 0 {
		opts.FileMode = defaultFileMode
	}
	if opts.DirMode == 0 {
		opts.DirMode = defaultDirMode
	}
	s := &Store{path: path, opts: opts}

	dir := filepath.Dir(path)
	created, err := file.EnsureDirectory(dir, opts.DirMode)
	if err != nil {
		return nil, fmt.Errorf("trust store dir: %w", err)
	}
	if created {
		slog.Debug("Created trust store directory", "dir", dir)
	}
	if _, err := file.SetAttributes(dir, file.Attributes{Owner: opts.Owner, Group: opts.Group}); err != nil {
		return nil, fmt.Errorf("trust store dir: %w", err)
	}

	for _, name := range []string{path, s.lockPath()} {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY, opts.FileMode)
		if err != nil {
			return nil, fmt.Errorf("trust store: %w", err)
		}
		f.Close()
		if err := s.hardenFile(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the known_hosts file path.
func (s *Store) Path() string { return s.path }

// HostName returns the name under which an address is recorded:
// "host" for port 22, "[host]:port" otherwise.
func HostName(addr string) string {
	return knownhosts.Normalize(addr)
}

// Remove deletes every record for host. A missing record is not a
// failure. The result is advisory; callers decide whether to act on it.
func (s *Store) Remove(host string) types.Outcome {
	unlock, err := s.lock()
	if err != nil {
		return types.Failed(err)
	}
	defer unlock()

	n, err := s.removeLocked(HostName(host))
	if err != nil {
		return types.Failed(fmt.Errorf("remove %s from %s: %w", host, s.path, err))
	}
	return types.Succeeded(fmt.Sprintf("removed %d record(s) for %s", n, host))
}

// Append adds records to the end of the store.
func (s *Store) Append(records []types.KeyRecord) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return s.appendLocked(records)
}

// Replace removes host's records and appends the new set while holding
// the lock once, so no reader observes two record sets for host. The
// removal outcome is returned for the caller to inspect.
func (s *Store) Replace(host string, records []types.KeyRecord) (types.Outcome, error) {
	unlock, err := s.lock()
	if err != nil {
		return types.Failed(err), err
	}
	defer unlock()

	var outcome types.Outcome
	if n, err := s.removeLocked(HostName(host)); err != nil {
		outcome = types.Failed(fmt.Errorf("remove %s from %s: %w", host, s.path, err))
	} else {
		outcome = types.Succeeded(fmt.Sprintf("removed %d record(s) for %s", n, host))
	}
	return outcome, s.appendLocked(records)
}

// Lookup returns the records currently stored for host.
func (s *Store) Lookup(host string) ([]types.KeyRecord, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	name := HostName(host)
	var out []types.KeyRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		marker, hosts, key, _, _, err := ssh.ParseKnownHosts(line)
		if err != nil || marker != "" || !matchesAny(hosts, name) {
			continue
		}
		out = append(out, types.KeyRecord{Host: name, Type: key.Type(), Key: key.Marshal()})
	}
	return out, sc.Err()
}

// HostKeyCallback verifies server keys against the store's current
// contents. It is built fresh on each call so that records appended
// since the last call are visible. The file is read under the store lock,
// so a concurrent Replace is seen either before or after, never halfway.
func (s *Store) HostKeyCallback() (ssh.HostKeyCallback, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	cb, err := knownhosts.New(s.path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	return cb, nil
}

func (s *Store) lockPath() string { return s.path + ".lock" }

func (s *Store) lock() (func(), error) {
	s.mu.Lock()
	lf, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, s.opts.FileMode)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("open trust store lock: %w", err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		lf.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("lock trust store: %w", err)
	}
	return func() {
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		s.mu.Unlock()
	}, nil
}

func (s *Store) removeLocked(name string) (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var kept bytes.Buffer
	removed := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if lineMatches(line, name) {
			removed++
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".known_hosts-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(kept.Bytes()); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return 0, err
	}
	return removed, s.harden()
}

func (s *Store) appendLocked(records []types.KeyRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, r := range records {
		key, err := ssh.ParsePublicKey(r.Key)
		if err != nil {
			return fmt.Errorf("record %s: %w", r, err)
		}
		name := HostName(r.Host)
		if !s.opts.PlainHosts {
			name = knownhosts.HashHostname(name)
		}
		buf.WriteString(knownhosts.Line([]string{name}, key))
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.opts.FileMode)
	if err != nil {
		return fmt.Errorf("open trust store: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append to trust store: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close trust store: %w", err)
	}
	return s.harden()
}

func (s *Store) harden() error {
	return s.hardenFile(s.path)
}

func (s *Store) hardenFile(name string) error {
	_, err := file.SetAttributes(name, file.Attributes{
		Owner: s.opts.Owner,
		Group: s.opts.Group,
		Mode:  s.opts.FileMode,
	})
	if err != nil {
		return fmt.Errorf("harden %s: %w", name, err)
	}
	return nil
}

// lineMatches reports whether a known_hosts line carries a record for name.
func lineMatches(line, name string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
		return false
	}
	patterns := fields[0]
	if strings.HasPrefix(patterns, "@") {
		patterns = fields[1]
	}
	return matchesAny(strings.Split(patterns, ","), name)
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "|1|") {
			if hashedMatch(p, name) {
				return true
			}
			continue
		}
		if p == name {
			return true
		}
	}
	return false
}

// hashedMatch checks a "|1|salt|hash" entry. knownhosts can produce these
// but offers no way to test one against a hostname.
func hashedMatch(entry, name string) bool {
	parts := strings.Split(entry, "|")
	if len(parts) != 4 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(name))
	return hmac.Equal(mac.Sum(nil), want)
}
