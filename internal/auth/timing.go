package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelay      time.Duration // minimum delay applied to failures
	Jitter         time.Duration // random extra delay, [0, Jitter)
	DelayOnSuccess bool          // if true, delay successful attempts too
}

// TimingDelay equalizes the observable duration of authentication failures
// so "unknown principal" and "wrong password" are indistinguishable from the
// outside.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// target returns base plus a secure random jitter. crypto/rand rather than
// math/rand: a predictable jitter would defeat the point.
func (td *TimingDelay) target() time.Duration {
	delay := td.config.BaseDelay

	if td.config.Jitter > 0 {
		randomBytes := make([]byte, 8)
		if _, err := rand.Read(randomBytes); err == nil {
			randomValue := binary.BigEndian.Uint64(randomBytes)
			delay += time.Duration(randomValue % uint64(td.config.Jitter))
		}
	}

	return delay
}

// Wait applies the delay for a failed attempt (or any attempt when
// DelayOnSuccess is set).
func (td *TimingDelay) Wait(success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	time.Sleep(td.target())
}

// WaitFrom applies the delay relative to a start time, so work already done
// counts toward the target and the total elapsed time stays uniform.
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	targetDelay := td.target()
	elapsed := time.Since(startTime)
	if elapsed < targetDelay {
		time.Sleep(targetDelay - elapsed)
	}
}
