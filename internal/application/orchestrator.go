package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/debfactory/internal/domain"
	"go.uber.org/zap"
)

// Orchestrator drains the ledger's pending work through a bounded
// worker pool, one build-trigger invocation per claimed record. An
// unreachable builder is retried in place with backoff and then the
// record is released back to pending, uncounted; an actual build
// failure is recorded against the attempt budget.
type Orchestrator struct {
	log     *zap.Logger
	ledger  domain.Ledger
	trigger domain.Trigger
	slots   int

	// unavailableRetry bounds the in-place retry loop for an
	// unreachable builder before the record is released.
	unavailableRetry time.Duration
}

func NewOrchestrator(log *zap.Logger, ledger domain.Ledger, trigger domain.Trigger, slots int) *Orchestrator {
	if slots <= 0 {
		slots = 1
	}
	return &Orchestrator{
		log:              log,
		ledger:           ledger,
		trigger:          trigger,
		slots:            slots,
		unavailableRetry: time.Minute,
	}
}

// Run dispatches every claimable record through the slot pool. New
// admissions stop as soon as ctx is cancelled; claimed builds run to
// their own completion so no record is left without an outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	work, err := o.ledger.PendingWork(ctx)
	if err != nil {
		return fmt.Errorf("pending work: %w", err)
	}
	if len(work) == 0 {
		return nil
	}

	o.log.Info("dispatching builds", zap.Int("pending", len(work)), zap.Int("slots", o.slots))

	jobs := make(chan domain.BuildRecord)
	var wg sync.WaitGroup
	for i := 0; i < o.slots; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				o.build(ctx, rec)
			}
		}()
	}

feed:
	for _, rec := range work {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return ctx.Err()
}

func (o *Orchestrator) build(ctx context.Context, rec domain.BuildRecord) {
	ok, err := o.ledger.Claim(ctx, rec.ID)
	if err != nil {
		o.log.Warn("claim failed", zap.Int64("record", rec.ID), zap.Error(err))
		return
	}
	if !ok {
		// Superseded or taken since PendingWork was computed.
		return
	}

	fields := []zap.Field{
		zap.String("repo", rec.Target.Repo),
		zap.String("codename", rec.Target.Codename),
		zap.String("pocket", rec.Target.Pocket),
		zap.String("commit", rec.CommitID),
	}

	snap, found, err := o.ledger.SnapshotRecord(ctx, rec.CommitID)
	if err != nil || !found {
		o.log.Warn("snapshot record missing, releasing claim", append(fields, zap.Error(err))...)
		o.release(rec.ID, "snapshot record missing")
		return
	}

	res, err := o.triggerWithRetry(ctx, rec.Target, snap)
	if err != nil {
		// Plumbing failure or shutdown: the build never ran, so the
		// record goes back to pending uncounted.
		o.log.Warn("build trigger unreachable, releasing claim", append(fields, zap.Error(err))...)
		o.release(rec.ID, err.Error())
		return
	}

	switch res.Outcome {
	case domain.OutcomeSucceeded:
		o.log.Info("build succeeded", fields...)
		o.recordOutcome(rec.ID, domain.StatusSucceeded, "")
	case domain.OutcomeFailed:
		o.log.Warn("build failed", append(fields, zap.String("reason", res.Reason))...)
		o.recordOutcome(rec.ID, domain.StatusFailed, res.Reason)
	default:
		o.log.Warn("builder unavailable, releasing claim", append(fields, zap.String("reason", res.Reason))...)
		o.release(rec.ID, res.Reason)
	}
}

// triggerWithRetry invokes the trigger, retrying unavailability with
// exponential backoff. A failed build is a result, not an error; only
// persistent unavailability or invocation plumbing comes back as error.
func (o *Orchestrator) triggerWithRetry(ctx context.Context, target domain.BuildTarget, snap domain.Snapshot) (domain.TriggerResult, error) {
	var res domain.TriggerResult

	op := func() error {
		r, err := o.trigger.Trigger(ctx, target, snap)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.Outcome == domain.OutcomeUnavailable {
			return fmt.Errorf("builder unavailable: %s", r.Reason)
		}
		res = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = o.unavailableRetry

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return domain.TriggerResult{}, err
	}
	return res, nil
}

// release and recordOutcome run on a fresh context: an outcome must be
// persisted even when the pass context is already cancelled.
func (o *Orchestrator) release(id int64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.ledger.RecordOutcome(ctx, id, domain.StatusPending, reason); err != nil {
		o.log.Error("releasing claim failed", zap.Int64("record", id), zap.Error(err))
	}
}

func (o *Orchestrator) recordOutcome(id int64, status domain.BuildStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.ledger.RecordOutcome(ctx, id, status, reason); err != nil {
		o.log.Error("recording outcome failed", zap.Int64("record", id), zap.Error(err))
	}
}
