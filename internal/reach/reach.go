// Package reach waits for private hosts to accept authenticated SSH
// sessions through the proxy.
package reach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eniac111/bastionboot/internal/types"
)

// Prober makes one authenticated round trip to target through via.
// Host-key verification must stay enabled.
type Prober interface {
	Probe(ctx context.Context, via, target types.Endpoint, timeout time.Duration) error
}

// UnreachableError reports a probe loop that gave up.
type UnreachableError struct {
	Host     string
	Attempts int
	Last     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempt(s): %v", e.Host, e.Attempts, e.Last)
}

func (e *UnreachableError) Unwrap() error {
	return e.Last
}

// WaitUntilReachable probes target through via until it succeeds or the
// policy is exhausted. observe, when non-nil, sees every attempt. It
// returns the number of attempts made.
func WaitUntilReachable(ctx context.Context, prober Prober, via, target types.Endpoint, policy Policy, observe func(types.Attempt)) (int, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	log := policy.logger().With("host", target.Host, "via", via.String())
	if !policy.Bounded() {
		log.Warn("Probing without an attempt or time bound")
	}

	var last error
	for attempt := 1; ; attempt++ {
		err := prober.Probe(ctx, via, target, policy.attemptTimeout())
		if observe != nil {
			observe(types.Attempt{Target: target, Via: via, Number: attempt, Err: err, At: time.Now()})
		}
		if err == nil {
			log.Info("Host reachable", "attempts", attempt)
			return attempt, nil
		}
		last = err

		if ctx.Err() != nil {
			return attempt, &UnreachableError{Host: target.Host, Attempts: attempt, Last: errors.Join(last, ctx.Err())}
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return attempt, &UnreachableError{Host: target.Host, Attempts: attempt, Last: last}
		}

		delay := policy.delay(attempt)
		log.Debug("SSH not ready, retrying", "attempt", attempt, "retry_in", delay, "error", err)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, &UnreachableError{Host: target.Host, Attempts: attempt, Last: errors.Join(last, ctx.Err())}
		case <-t.C:
		}
	}
}
