package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig is the response floor and the jitter added on top of it.
type TimingConfig struct {
	BaseDelayMs   int
	RandomDelayMs int
}

// TimingDelay pads sensitive responses to a floor so that "unknown account"
// and "wrong password" (or "email sent" and "no such email") take the same time.
type TimingDelay struct {
	config TimingConfig
	sleep  func(ctx context.Context, d time.Duration)
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  sleepContext,
	}
}

// Target returns the padded duration for one operation: base plus jitter.
func (td *TimingDelay) Target() time.Duration {
	target := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs <= 0 {
		return target
	}
	// A failed read leaves the floor in place.
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelayMs))); err == nil {
		target += time.Duration(n.Int64()) * time.Millisecond
	}
	return target
}

// WaitFrom sleeps until at least Target() has elapsed since startTime, or ctx ends.
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time) {
	elapsed := time.Since(startTime)
	if target := td.Target(); elapsed < target {
		td.sleep(ctx, target-elapsed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
