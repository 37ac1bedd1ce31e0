package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dogwalking/auth-service/internal/auth"
)

func newTiming(base, jitter time.Duration, delayOnSuccess bool) *auth.TimingDelay {
	return auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:      base,
		Jitter:         jitter,
		DelayOnSuccess: delayOnSuccess,
	})
}

func TestTimingDelay_FailurePathMeetsFloor(t *testing.T) {
	td := newTiming(80*time.Millisecond, 40*time.Millisecond, false)

	start := time.Now()
	td.Wait(false)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestTimingDelay_SuccessSkipsPadding(t *testing.T) {
	td := newTiming(80*time.Millisecond, 40*time.Millisecond, false)

	start := time.Now()
	td.Wait(true)

	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestTimingDelay_DelayOnSuccessPadsBothOutcomes(t *testing.T) {
	td := newTiming(60*time.Millisecond, 0, true)

	for _, success := range []bool{true, false} {
		start := time.Now()
		td.Wait(success)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "success=%v", success)
	}
}

func TestTimingDelay_WaitFromCreditsWorkAlreadyDone(t *testing.T) {
	td := newTiming(100*time.Millisecond, 0, false)

	// Pretend 60ms of credential checking already happened.
	start := time.Now().Add(-60 * time.Millisecond)

	padStart := time.Now()
	td.WaitFrom(start, false)
	padding := time.Since(padStart)

	assert.GreaterOrEqual(t, padding, 30*time.Millisecond)
	assert.Less(t, padding, 80*time.Millisecond,
		"padding tops up to the target instead of stacking on it")
}

func TestTimingDelay_WaitFromPastTargetAddsNothing(t *testing.T) {
	td := newTiming(30*time.Millisecond, 0, false)

	start := time.Now().Add(-100 * time.Millisecond)

	padStart := time.Now()
	td.WaitFrom(start, false)

	assert.Less(t, time.Since(padStart), 20*time.Millisecond)
}

func TestTimingDelay_JitterStaysWithinBound(t *testing.T) {
	base := 10 * time.Millisecond
	jitter := 20 * time.Millisecond
	td := newTiming(base, jitter, false)

	for i := 0; i < 8; i++ {
		start := time.Now()
		td.Wait(false)
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, base)
		assert.Less(t, elapsed, base+jitter+40*time.Millisecond)
	}
}
