// Package bootstrap sequences a fleet bootstrap: trust the proxy, trust
// every private host through it, load the deployment key into an agent,
// then wait for each private host to accept sessions through the proxy.
package bootstrap

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/eniac111/bastionboot/internal/inventory"
	"github.com/eniac111/bastionboot/internal/reach"
	"github.com/eniac111/bastionboot/internal/types"
)

const defaultConcurrency = 8

// Truster establishes host trust. *trust.Manager implements it.
type Truster interface {
	EstablishDirectTrust(ctx context.Context, host string) (int, error)
	EstablishTrustViaProxy(ctx context.Context, host, proxyUser, proxyHost string) (int, error)
}

// Agent holds the deployment key for the rest of the run and for the
// configuration-management hand-off.
type Agent interface {
	Signers() ([]ssh.Signer, error)
	Socket() string
	Close() error
}

// Orchestrator runs one bounded bootstrap. It holds no state between runs.
type Orchestrator struct {
	// Inventory loads the fleet description.
	Inventory func() (*inventory.Inventory, error)
	Trust     Truster
	// StartAgent fails when the deployment key or user is unavailable.
	StartAgent func(ctx context.Context) (Agent, error)
	// NewProber builds the prober that authenticates with the agent.
	NewProber func(Agent) reach.Prober
	Policy    reach.Policy
	// Concurrency limits in-flight per-host tasks. Zero means 8.
	Concurrency int
	// User logs in to the private hosts; empty means the inventory user.
	User string
	// ProxyUser logs in to the proxy; empty means User.
	ProxyUser string
	// Observe sees every probe attempt.
	Observe func(types.Attempt)
	Logger  *slog.Logger
}

// Run executes the bootstrap. The Result is always returned; the error is
// a *StageError exactly when Result.Status is StatusFailed.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	log := o.logger()
	res := newResult()

	inv, err := o.Inventory()
	if err != nil {
		return o.fail(res, StageStart, "", err)
	}
	res.Inventory = inv
	res.Proxy = inv.ProxyHost()
	user := o.User
	if user == "" {
		user = inv.User()
	}
	res.User = user
	proxyUser := o.ProxyUser
	if proxyUser == "" {
		proxyUser = user
	}
	log = log.With("proxy", res.Proxy)

	res.State = StageProxyTrust
	n, err := o.Trust.EstablishDirectTrust(ctx, res.Proxy)
	if err != nil {
		return o.fail(res, StageProxyTrust, res.Proxy, err)
	}
	if n == 0 {
		return o.fail(res, StageProxyTrust, res.Proxy, ErrNoHostKeys)
	}
	res.ProxyTrusted = true
	log.Info("Proxy trusted", "records", n)

	res.State = StagePrivateTrust
	o.forEach(inv.Private.Hosts, func(host string) {
		n, err := o.Trust.EstablishTrustViaProxy(ctx, host, proxyUser, res.Proxy)
		switch {
		case err != nil:
			log.Warn("Excluding host, trust failed", "host", host, "error", err)
			res.exclude(host, err)
		case n == 0:
			log.Warn("Excluding host, no keys presented", "host", host)
			res.exclude(host, ErrNoHostKeys)
		default:
			res.markTrusted(host)
		}
	})
	res.collect()
	if err := ctx.Err(); err != nil {
		return o.fail(res, StagePrivateTrust, "", err)
	}
	if len(res.PrivateTrusted) == 0 {
		return o.fail(res, StagePrivateTrust, "", ErrNoReachableHosts)
	}

	res.State = StageAgentReady
	agent, err := o.StartAgent(ctx)
	if err != nil {
		return o.fail(res, StageAgentReady, "", err)
	}
	log.Info("Deployment key loaded", "socket", agent.Socket())

	res.State = StageProbing
	policy := o.Policy
	if policy.Logger == nil {
		policy.Logger = log
	}
	prober := o.NewProber(agent)
	via := types.Endpoint{Host: res.Proxy, User: proxyUser}
	o.forEach(res.PrivateTrusted, func(host string) {
		target := types.Endpoint{Host: host, User: user}
		attempts, err := reach.WaitUntilReachable(ctx, prober, via, target, policy, o.Observe)
		if err != nil {
			log.Warn("Excluding host, unreachable", "host", host, "attempts", attempts, "error", err)
			res.recordAttempts(host, attempts)
			res.exclude(host, err)
			return
		}
		res.markReachable(host, attempts)
	})
	res.collect()

	if err := ctx.Err(); err != nil {
		closeAgent(log, agent)
		return o.fail(res, StageProbing, "", err)
	}
	if len(res.PrivateReachable) == 0 {
		closeAgent(log, agent)
		return o.fail(res, StageProbing, "", ErrNoReachableHosts)
	}

	res.Agent = agent
	if len(res.PrivateReachable) == len(inv.Private.Hosts) {
		res.State = StageReady
		res.Status = StatusReady
		log.Info("Fleet ready", "hosts", len(res.PrivateReachable))
	} else {
		res.Status = StatusPartial
		log.Warn("Fleet partially ready", "reachable", res.PrivateReachable, "excluded", res.ExcludedHosts())
	}
	return res, nil
}

// forEach runs fn for every host with bounded concurrency and waits. fn
// reports failures through the Result, so the group never cancels.
func (o *Orchestrator) forEach(hosts []string, fn func(host string)) {
	limit := o.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, host := range hosts {
		g.Go(func() error {
			fn(host)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) fail(res *Result, stage Stage, host string, err error) (*Result, error) {
	res.State = StageFailed
	res.Status = StatusFailed
	serr := &StageError{Stage: stage, Host: host, Err: err}
	o.logger().Error("Bootstrap failed", "stage", stage, "host", host, "error", err)
	return res, serr
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func closeAgent(log *slog.Logger, agent Agent) {
	if err := agent.Close(); err != nil {
		log.Warn("Failed to stop agent", "error", err)
	}
}
