// Package biometric gates access to locally cached secrets behind a platform
// biometric prompt. Nothing in this package touches the network; a successful
// challenge unlocks local material only and never issues or extends a server
// session.
package biometric

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultMaxFailures = 3

var (
	// ErrLockedOut means the consecutive-failure bound was exceeded. The
	// caller must fall back to a non-biometric credential path; retrying
	// the prompt keeps failing until Reset or the cool-down elapses.
	ErrLockedOut = errors.New("biometric gate locked out")

	// ErrUnavailable means the platform has no usable biometric: either the
	// hardware is absent or nothing is enrolled.
	ErrUnavailable = errors.New("biometric authentication unavailable")
)

// Outcome of a single platform authentication attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Authenticator is the platform prompt surface: capability, enrollment, and
// the interactive match itself. Implementations wrap whatever the host OS
// provides.
type Authenticator interface {
	Available() bool
	Enrolled() bool
	Authenticate(ctx context.Context) (Outcome, error)
}

// Config bounds the gate's retry behavior. A zero CoolDown keeps the gate
// locked until an explicit Reset.
type Config struct {
	MaxFailures int
	CoolDown    time.Duration
}

func (c Config) normalized() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	return c
}

// Gate wraps an Authenticator with a bounded consecutive-failure counter.
// The counter spans the gate's lifetime: a successful challenge records the
// unlock time but never silently clears accumulated failures. Only Reset
// does that, after the caller has re-proven identity some other way.
type Gate struct {
	auth   Authenticator
	config Config

	mu           sync.Mutex
	failures     int
	lockedAt     time.Time // zero while the gate is not locked
	lastUnlockAt time.Time // zero until the first successful challenge
	now          func() time.Time
}

// NewGate creates a gate around the given platform authenticator.
func NewGate(auth Authenticator, config Config) *Gate {
	return &Gate{
		auth:   auth,
		config: config.normalized(),
		now:    time.Now,
	}
}

// CanChallenge reports whether a prompt could be shown right now: hardware
// present, a biometric enrolled, and the gate not locked out.
func (g *Gate) CanChallenge() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.auth.Available() || !g.auth.Enrolled() {
		return false
	}

	return !g.lockedOut()
}

// Challenge runs one platform authentication attempt. Failures count toward
// the lockout bound; cancellations do not. The attempt that reaches the
// bound returns ErrLockedOut alongside its Failure outcome.
//
// The gate's mutex is held for the duration of the prompt, so concurrent
// callers serialize rather than stacking prompts.
func (g *Gate) Challenge(ctx context.Context) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.auth.Available() || !g.auth.Enrolled() {
		return OutcomeFailure, ErrUnavailable
	}

	if g.lockedOut() {
		return OutcomeFailure, ErrLockedOut
	}

	outcome, err := g.auth.Authenticate(ctx)
	if err != nil {
		// Platform errors are not failed matches; they never count
		// toward the lockout bound.
		return OutcomeFailure, err
	}

	switch outcome {
	case OutcomeSuccess:
		g.lastUnlockAt = g.now()
		return OutcomeSuccess, nil

	case OutcomeCancelled:
		return OutcomeCancelled, nil

	default:
		g.failures++
		if g.failures >= g.config.MaxFailures {
			g.lockedAt = g.now()
			return OutcomeFailure, ErrLockedOut
		}
		return OutcomeFailure, nil
	}
}

// Reset clears the failure counter, the lockout, and the cached unlock
// state. Call it after a successful fallback authentication or once the
// caller's own cool-down policy has elapsed; the gate never resets itself
// on construction or app launch.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.lockedAt = time.Time{}
	g.lastUnlockAt = time.Time{}
}

// LastUnlock returns when the most recent successful challenge happened,
// or the zero time if the gate has not been unlocked since the last Reset.
func (g *Gate) LastUnlock() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lastUnlockAt
}

// lockedOut reports whether the bound has been hit and the cool-down, if
// one is configured, has not yet elapsed. Caller holds g.mu. The failure
// counter survives the cool-down; only Reset clears it.
func (g *Gate) lockedOut() bool {
	if g.lockedAt.IsZero() {
		return false
	}

	if g.config.CoolDown > 0 && g.now().Sub(g.lockedAt) >= g.config.CoolDown {
		return false
	}

	return true
}
