package reach

import (
	"log/slog"
	"time"
)

// Backoff yields the pause after a failed attempt. attempt starts at 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval after every attempt.
type Constant time.Duration

func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Exponential doubles (by Factor) from Initial up to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	factor := e.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(e.Initial)
	for i := 1; i < attempt; i++ {
		d *= factor
		if e.Max > 0 && d >= float64(e.Max) {
			return e.Max
		}
	}
	return time.Duration(d)
}

// Policy bounds a probe loop. MaxAttempts and Timeout are both optional;
// with neither set the loop runs until its context is cancelled.
type Policy struct {
	MaxAttempts int
	// Timeout caps the whole loop, backoff included.
	Timeout time.Duration
	// AttemptTimeout caps a single connection attempt.
	AttemptTimeout time.Duration
	Backoff        Backoff
	// Logger receives per-host progress; nil means slog's default.
	Logger *slog.Logger
}

const (
	defaultMaxAttempts    = 30
	defaultRetryInterval  = 10 * time.Second
	defaultAttemptTimeout = 15 * time.Second
)

// DefaultPolicy retries every 10s for up to 30 attempts of 15s each.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    defaultMaxAttempts,
		AttemptTimeout: defaultAttemptTimeout,
		Backoff:        Constant(defaultRetryInterval),
	}
}

// Bounded reports whether the policy can give up on its own.
func (p Policy) Bounded() bool {
	return p.MaxAttempts > 0 || p.Timeout > 0
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

func (p Policy) attemptTimeout() time.Duration {
	if p.AttemptTimeout <= 0 {
		return defaultAttemptTimeout
	}
	return p.AttemptTimeout
}
