package bootstrap

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/eniac111/bastionboot/internal/inventory"
)

// Stage is a step of the bootstrap sequence.
type Stage string

const (
	StageStart        Stage = "start"
	StageProxyTrust   Stage = "proxy-trust"
	StagePrivateTrust Stage = "private-trust"
	StageAgentReady   Stage = "agent-ready"
	StageProbing      Stage = "probing"
	StageReady        Stage = "ready"
	StageFailed       Stage = "failed"
)

// Status is the tri-state outcome handed to the caller.
type Status int

const (
	StatusFailed Status = iota
	StatusPartial
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPartial:
		return "partial"
	default:
		return "failed"
	}
}

var (
	// ErrNoHostKeys is recorded when a host answered the scan without
	// presenting any key.
	ErrNoHostKeys = errors.New("host presented no keys")
	// ErrNoReachableHosts fails a run that ends with no usable private host.
	ErrNoReachableHosts = errors.New("no private host is reachable")
)

// StageError is the fatal error of a run: the stage it stopped in and,
// when one host is to blame, that host.
type StageError struct {
	Stage Stage
	Host  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Host, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the aggregate of a run. Per-host fields are written by
// concurrent tasks and guarded by mu until Run returns.
type Result struct {
	State  Stage
	Status Status

	Inventory    *inventory.Inventory
	Proxy        string
	User         string
	ProxyTrusted bool
	// PrivateTrusted and PrivateReachable follow inventory order.
	PrivateTrusted   []string
	PrivateReachable []string
	// Excluded maps each dropped private host to the reason.
	Excluded map[string]error
	Attempts map[string]int

	// Agent holds the deployment key for the hand-off. It is set only for
	// ready and partial runs and the caller must Close it.
	Agent Agent

	mu        sync.Mutex
	trusted   map[string]bool
	reachable map[string]bool
}

func newResult() *Result {
	return &Result{
		State:     StageStart,
		Excluded:  make(map[string]error),
		Attempts:  make(map[string]int),
		trusted:   make(map[string]bool),
		reachable: make(map[string]bool),
	}
}

func (r *Result) exclude(host string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Excluded[host] = err
}

func (r *Result) markTrusted(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trusted[host] = true
}

func (r *Result) markReachable(host string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reachable[host] = true
	r.Attempts[host] = attempts
}

func (r *Result) recordAttempts(host string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempts[host] = attempts
}

// collect rebuilds the ordered host lists from the per-host marks.
func (r *Result) collect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PrivateTrusted = r.PrivateTrusted[:0]
	r.PrivateReachable = r.PrivateReachable[:0]
	if r.Inventory == nil {
		return
	}
	for _, h := range r.Inventory.Private.Hosts {
		if r.trusted[h] {
			r.PrivateTrusted = append(r.PrivateTrusted, h)
		}
		if r.reachable[h] {
			r.PrivateReachable = append(r.PrivateReachable, h)
		}
	}
}

// ExcludedHosts lists the excluded hosts in sorted order.
func (r *Result) ExcludedHosts() []string {
	hosts := make([]string, 0, len(r.Excluded))
	for h := range r.Excluded {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// ReachableInventory is the inventory restricted to reachable private
// hosts, for handing a partial fleet to configuration management.
func (r *Result) ReachableInventory() *inventory.Inventory {
	if r.Inventory == nil {
		return nil
	}
	return r.Inventory.Restrict(r.PrivateReachable)
}
