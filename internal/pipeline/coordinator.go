// Package pipeline drives the simulation end-to-end: verify reference data,
// ingest the claim corpus, adjudicate in fixed-size batches, persist each
// batch atomically, pace against the simulated clock, and report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rxops/rxsim/internal/claim"
	"github.com/rxops/rxsim/internal/engine"
	"github.com/rxops/rxsim/internal/pacer"
)

// progressEvery is the minimum interval between progress lines.
const progressEvery = 10 * time.Second

// DefaultBatchSize is the adjudication/persistence batch size.
const DefaultBatchSize = 100

// ClaimSource yields the input corpus. Satisfied by *ingest.Source.
type ClaimSource interface {
	LoadAll(ctx context.Context) ([]*claim.Claim, error)
	Stream(ctx context.Context, out chan<- *claim.Claim) error
	Skipped() int64
}

// ClaimSink persists adjudicated batches. Satisfied by *store.Store.
// Consumers depend on this interface rather than the concrete store so
// tests can substitute fakes.
type ClaimSink interface {
	VerifyReferenceData(ctx context.Context) error
	InsertClaims(ctx context.Context, batch []*claim.Claim) (int, error)
	CountClaims(ctx context.Context) (int64, error)
	CountClaimsByStatus(ctx context.Context, status claim.Status) (int64, error)
}

// Coordinator owns the run loop, the counters, and the current batch.
type Coordinator struct {
	src  ClaimSource
	eng  *engine.Engine
	sink ClaimSink

	batchSize int
	stream    bool
	out       io.Writer

	counters claim.Counters
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBatchSize overrides the default batch size.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithStreaming switches ingest from materialize-all to a bounded
// producer/consumer: the source goroutine fills a channel holding at most
// four batches while the coordinator drains it. Ordering is identical.
func WithStreaming(enabled bool) Option {
	return func(c *Coordinator) { c.stream = enabled }
}

// WithOutput redirects progress and report lines (tests).
func WithOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.out = w }
}

// New assembles a Coordinator.
func New(src ClaimSource, eng *engine.Engine, sink ClaimSink, opts ...Option) *Coordinator {
	c := &Coordinator{
		src:       src,
		eng:       eng,
		sink:      sink,
		batchSize: DefaultBatchSize,
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the full simulation at the given speedup factor and returns
// the final report. On cooperative cancellation the current batch is still
// persisted, the returned report is partial, and the error is a StageError
// with exit code 130.
func (c *Coordinator) Run(ctx context.Context, speedup float64) (*Report, error) {
	if err := c.sink.VerifyReferenceData(ctx); err != nil {
		return nil, &StageError{Stage: StageVerify, Err: err}
	}

	if c.stream {
		return c.runStreaming(ctx, speedup)
	}
	return c.runMaterialized(ctx, speedup)
}

// runMaterialized mirrors the reference system: load everything, then loop.
func (c *Coordinator) runMaterialized(ctx context.Context, speedup float64) (*Report, error) {
	claims, err := c.src.LoadAll(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageIngest, Err: err}
	}
	fmt.Fprintf(c.out, "Loaded %d claims total\n", len(claims))

	p := pacer.New(speedup, c.batchSize)
	lastProgress := time.Now()

	total := len(claims)
	for start := 0; start < total; start += c.batchSize {
		end := min(start+c.batchSize, total)
		if err := c.processBatch(ctx, claims[start:end]); err != nil {
			return c.finishEarly(p, err)
		}
		lastProgress = c.maybeProgress(p, int64(total), lastProgress)
		if cancelled(ctx) {
			return c.finishEarly(p, context.Cause(ctx))
		}
		if err := p.SleepAfterBatch(ctx); err != nil {
			return c.finishEarly(p, err)
		}
	}

	return c.finalReport(ctx, p)
}

// runStreaming feeds the same loop from a bounded channel: queue depth is
// four batches, so memory stays constant regardless of corpus size.
func (c *Coordinator) runStreaming(ctx context.Context, speedup float64) (*Report, error) {
	p := pacer.New(speedup, c.batchSize)
	lastProgress := time.Now()

	// The producer must observe consumer-side failures too, or it would
	// block forever on a full channel; cancelProducer covers early exits.
	sctx, cancelProducer := context.WithCancel(ctx)
	defer cancelProducer()

	in := make(chan *claim.Claim, 4*c.batchSize)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return c.src.Stream(gctx, in) })

	batch := make([]*claim.Claim, 0, c.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.processBatch(ctx, batch)
		batch = batch[:0]
		if err != nil {
			return err
		}
		lastProgress = c.maybeProgress(p, 0, lastProgress)
		return p.SleepAfterBatch(ctx)
	}

	for claimRec := range in {
		batch = append(batch, claimRec)
		if len(batch) < c.batchSize {
			continue
		}
		if err := flush(); err != nil {
			cancelProducer()
			_ = g.Wait()
			return c.finishEarly(p, err)
		}
		if cancelled(ctx) {
			cancelProducer()
			_ = g.Wait()
			return c.finishEarly(p, context.Cause(ctx))
		}
	}
	if err := g.Wait(); err != nil {
		// The producer surfaces cooperative cancellation as its own error;
		// that is not an ingest failure and still owes a partial report.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return c.finishEarly(p, err)
		}
		return nil, &StageError{Stage: StageIngest, Err: err}
	}
	if err := flush(); err != nil {
		return c.finishEarly(p, err)
	}

	return c.finalReport(ctx, p)
}

// processBatch adjudicates every claim in the slice in place, updates the
// counters, and persists the slice as one transaction.
func (c *Coordinator) processBatch(ctx context.Context, batch []*claim.Claim) error {
	for _, rec := range batch {
		outcome := c.eng.Adjudicate(rec)
		rec.Apply(outcome, time.Now())
		c.counters.Observe(outcome)
	}
	if _, err := c.sink.InsertClaims(ctx, batch); err != nil {
		return &StageError{Stage: StagePersist, Err: err}
	}
	return nil
}

// maybeProgress emits a progress line when at least progressEvery has
// elapsed since the previous one. total of 0 omits the percentage
// (streaming mode, where the corpus size is unknown up front).
func (c *Coordinator) maybeProgress(p *pacer.Pacer, total int64, last time.Time) time.Time {
	if time.Since(last) < progressEvery {
		return last
	}
	pct := ""
	if total > 0 {
		pct = fmt.Sprintf(" (%.1f%%)", 100*float64(c.counters.Processed)/float64(total))
	}
	fmt.Fprintf(c.out, "Progress: processed=%d%s tps=%.1f mean_ms=%.2f approved=%d rejected=%d\n",
		c.counters.Processed, pct, p.AchievedTPS(c.counters.Processed),
		c.counters.MeanMS(), c.counters.Approved, c.counters.Rejected)
	return time.Now()
}

// finishEarly classifies a mid-run failure or cancellation and attaches a
// partial report. The current batch has already been persisted (or rolled
// back); nothing aborts mid-batch.
func (c *Coordinator) finishEarly(p *pacer.Pacer, err error) (*Report, error) {
	rep := c.buildReport(p, true)
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return rep, stageErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rep, &StageError{Stage: StageCancelled, Err: err}
	}
	return rep, &StageError{Stage: StagePersist, Err: err}
}

// finalReport adds the database-side verification counts.
func (c *Coordinator) finalReport(ctx context.Context, p *pacer.Pacer) (*Report, error) {
	rep := c.buildReport(p, false)

	var err error
	if rep.DBTotal, err = c.sink.CountClaims(ctx); err != nil {
		return rep, &StageError{Stage: StagePersist, Err: err}
	}
	if rep.DBApproved, err = c.sink.CountClaimsByStatus(ctx, claim.StatusApproved); err != nil {
		return rep, &StageError{Stage: StagePersist, Err: err}
	}
	if rep.DBRejected, err = c.sink.CountClaimsByStatus(ctx, claim.StatusRejected); err != nil {
		return rep, &StageError{Stage: StagePersist, Err: err}
	}
	return rep, nil
}

func (c *Coordinator) buildReport(p *pacer.Pacer, partial bool) *Report {
	return &Report{
		Partial:         partial,
		Duration:        p.Elapsed(),
		Processed:       c.counters.Processed,
		Approved:        c.counters.Approved,
		Rejected:        c.counters.Rejected,
		ApprovalPercent: c.counters.ApprovalPercent(),
		TPS:             p.AchievedTPS(c.counters.Processed),
		MeanMS:          c.counters.MeanMS(),
		SkippedRows:     c.src.Skipped(),
	}
}

// Counters exposes the run counters (tests and the final report).
func (c *Coordinator) Counters() claim.Counters { return c.counters }

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
