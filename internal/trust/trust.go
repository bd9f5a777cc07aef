// Package trust establishes trust-on-first-use host keys for the proxy
// and, through it, for every private host.
package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eniac111/bastionboot/internal/truststore"
	"github.com/eniac111/bastionboot/internal/types"
)

// Scanner fetches the host keys a target currently presents. When via is
// non-nil the scan is relayed through that jump host.
type Scanner interface {
	ScanHostKeys(ctx context.Context, target types.Endpoint, via *types.Endpoint) ([]types.KeyRecord, error)
}

// Failure reports that trust could not be established for Host.
type Failure struct {
	Host string
	Err  error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("establish trust for %s: %v", e.Host, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// Manager performs the remove / scan / append cycle against a Store.
type Manager struct {
	Store   *truststore.Store
	Scanner Scanner
	Logger  *slog.Logger
}

// NewManager returns a Manager logging through slog's default logger.
func NewManager(store *truststore.Store, scanner Scanner) *Manager {
	return &Manager{Store: store, Scanner: scanner, Logger: slog.Default()}
}

// EstablishDirectTrust replaces the stored keys for host with the keys it
// presents right now. It returns how many records were written; zero
// records is not an error here, the caller decides whether that blocks
// progress.
func (m *Manager) EstablishDirectTrust(ctx context.Context, host string) (int, error) {
	return m.establish(ctx, types.Endpoint{Host: host}, nil)
}

// EstablishTrustViaProxy is EstablishDirectTrust with the key scan relayed
// through proxyUser@proxyHost. The proxy must already be trusted.
func (m *Manager) EstablishTrustViaProxy(ctx context.Context, host, proxyUser, proxyHost string) (int, error) {
	via := types.Endpoint{Host: proxyHost, User: proxyUser}
	return m.establish(ctx, types.Endpoint{Host: host}, &via)
}

func (m *Manager) establish(ctx context.Context, target types.Endpoint, via *types.Endpoint) (int, error) {
	log := m.logger().With("host", target.Host)
	if via != nil {
		log = log.With("via", via.String())
	}

	records, err := m.Scanner.ScanHostKeys(ctx, target, via)
	if err != nil {
		// The stale set goes regardless, leaving the host with no trusted key.
		if outcome := m.Store.Remove(target.Addr()); !outcome.OK {
			log.Warn("Ignored failure removing stale host keys", "error", outcome.Err)
		}
		return 0, &Failure{Host: target.Host, Err: fmt.Errorf("scan host keys: %w", err)}
	}
	for i := range records {
		records[i].Host = target.Addr()
	}

	outcome, err := m.Store.Replace(target.Addr(), records)
	if !outcome.OK {
		// Stale-record removal is best effort; a failure only means the
		// old record may linger next to the new one.
		log.Warn("Ignored failure removing stale host keys", "error", outcome.Err)
	}
	if err != nil {
		return 0, &Failure{Host: target.Host, Err: fmt.Errorf("write trust store: %w", err)}
	}

	if len(records) == 0 {
		log.Warn("Host presented no keys")
	} else {
		log.Info("Host keys trusted", "records", len(records))
	}
	return len(records), nil
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
