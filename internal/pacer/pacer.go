// Package pacer shapes pipeline throughput against a simulated wall clock.
//
// The model is a mid-size PBM processing 1,000,000 claims per day
// (~11.57 claims/sec). A speedup factor compresses that: at speedup s the
// effective rate is baseline*s, and the coordinator sleeps batch/(rate)
// seconds after each batch. Rate shaping is best-effort; nothing enforces
// an upper bound on throughput.
package pacer

import (
	"context"
	"time"
)

// BaselineTPS is the real-time claims-per-second baseline:
// 1,000,000 claims / 86,400 seconds.
const BaselineTPS = 1_000_000.0 / 86_400.0

// minDelay is the floor below which the pacer skips sleeping entirely.
const minDelay = time.Millisecond

// Pacer computes and executes the inter-batch delay for one run.
type Pacer struct {
	speedup float64
	delay   time.Duration
	start   time.Time
}

// New creates a Pacer for the given speedup factor (>= 1) and batch size.
func New(speedup float64, batchSize int) *Pacer {
	if speedup < 1 {
		speedup = 1
	}
	rate := BaselineTPS * speedup
	delay := time.Duration(float64(batchSize) / rate * float64(time.Second))
	if delay < minDelay {
		delay = 0
	}
	return &Pacer{speedup: speedup, delay: delay, start: time.Now()}
}

// Delay is the computed inter-batch sleep interval (zero when below the
// 1 ms floor).
func (p *Pacer) Delay() time.Duration { return p.delay }

// EffectiveRate is the target claims/sec after speedup.
func (p *Pacer) EffectiveRate() float64 { return BaselineTPS * p.speedup }

// SleepAfterBatch suspends the coordinator for the inter-batch interval.
// Cancelling ctx wakes it immediately and returns the context error.
func (p *Pacer) SleepAfterBatch(ctx context.Context) error {
	if p.delay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Elapsed is the wall-clock time since the pacer was created.
func (p *Pacer) Elapsed() time.Duration { return time.Since(p.start) }

// AchievedTPS is the observed claims/sec for n processed claims so far.
func (p *Pacer) AchievedTPS(n int64) float64 {
	secs := p.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) / secs
}
