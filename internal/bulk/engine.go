// Package bulk implements the find-then-settle bulk operations engine
// (spec §4.6): delete, dead-letter, resend-and-delete, and send-bulk
// over a bounded selection, with granular progress and a hard safety
// cap enforced before any broker I/O.
package bulk

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// Session is the actor capability the engine needs: receive a batch
// under lease, settle by lock token, and send. Depending on this
// narrow interface (rather than *queuesession.Actor) keeps the engine
// testable without a running actor goroutine.
type Session interface {
	Receive(ctx context.Context, queue model.QueueIdentity, maxCount int, timeout time.Duration) ([]model.LeasedMessage, error)
	Complete(ctx context.Context, lock model.LockToken) error
	Abandon(ctx context.Context, lock model.LockToken) error
	DeadLetter(ctx context.Context, lock model.LockToken, reason, description string) error
	Send(ctx context.Context, queue model.QueueIdentity, batch []broker.MessageToSend) error
}

// Engine runs BulkPlans against a Session.
type Engine struct {
	session Session
	limits  model.Limits
	logger  *zap.Logger
	bus     *bus.Bus

	// DLQMaxAttempts and DLQRetryDelay bound the find-then-settle loop's
	// empty-batch retries (spec §4.6's dlq_max_attempts/dlq_retry_delay_ms,
	// spec §6.2).
	DLQMaxAttempts int
	DLQRetryDelay  time.Duration
}

// New constructs an Engine enforcing limits.
func New(session Session, limits model.Limits, logger *zap.Logger, b *bus.Bus) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session:        session,
		limits:         limits,
		logger:         logger,
		bus:            b,
		DLQMaxAttempts: 5,
		DLQRetryDelay:  500 * time.Millisecond,
	}
}

// Run executes plan to completion, cancellation, or timeout. The
// returned BulkOutcome's Succeeded/Failed/CancelledRemaining sizes
// always sum to len(plan.Selection) (or plan.SendCount for send-bulk).
func (e *Engine) Run(ctx context.Context, plan model.BulkPlan) (model.BulkOutcome, error) {
	if !e.limits.Validate(plan) {
		return model.BulkOutcome{}, errs.New("bulk_engine", "validate", errs.KindConfig, errs.ErrPolicyViolation)
	}

	if len(plan.Selection) == 0 && plan.SendCount > 0 {
		return e.runSendBulk(ctx, plan)
	}

	if plan.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.OverallTimeout)
		defer cancel()
	}

	remaining := make(map[model.Identity]struct{}, len(plan.Selection))
	ordered := append([]model.Identity(nil), plan.Selection...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })
	for _, id := range ordered {
		remaining[id] = struct{}{}
	}

	var succeeded, failed []model.Identity
	total := len(ordered)
	processed := 0
	attempts := 0

	for len(remaining) > 0 && attempts < e.DLQMaxAttempts {
		select {
		case <-ctx.Done():
			return e.doneOutcome(ctx, succeeded, failed, remaining), nil
		default:
		}

		batchBudget := plan.BatchSize
		if batchBudget > len(remaining) {
			batchBudget = len(remaining)
		}

		leased, err := e.session.Receive(ctx, plan.Target, batchBudget, plan.PerAttemptTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return e.doneOutcome(ctx, succeeded, failed, remaining), nil
			}
			attempts++
			e.sleep(ctx, e.DLQRetryDelay)
			continue
		}

		if len(leased) == 0 {
			attempts++
			e.sleep(ctx, e.DLQRetryDelay)
			continue
		}

		madeProgress := false
		for _, msg := range leased {
			id := msg.Identity()
			if _, want := remaining[id]; !want {
				if err := e.session.Abandon(ctx, msg.Lock); err != nil {
					e.logger.Warn("bulk abandon of unmatched lease failed", zap.Error(err))
				}
				continue
			}

			outcomeErr := e.applyOutcome(ctx, plan, msg)
			delete(remaining, id)
			madeProgress = true
			if outcomeErr != nil {
				failed = append(failed, id)
				e.logger.Warn("bulk outcome failed", zap.String("id", id.ID), zap.Error(outcomeErr))
			} else {
				succeeded = append(succeeded, id)
			}
			processed++
			e.reportProgress(processed, total)
		}

		if madeProgress {
			attempts = 0
		} else {
			attempts++
		}
	}

	if len(remaining) > 0 {
		for id := range remaining {
			failed = append(failed, id)
		}
		return model.BulkOutcome{Status: model.BulkPartiallyFailed, Succeeded: succeeded, Failed: failed}, nil
	}

	status := model.BulkCompleted
	if len(failed) > 0 {
		status = model.BulkPartiallyFailed
	}
	return model.BulkOutcome{Status: status, Succeeded: succeeded, Failed: failed}, nil
}

// applyOutcome performs the terminal action a plan requests against one
// leased message: complete (delete), dead-letter, or resend-and-delete.
func (e *Engine) applyOutcome(ctx context.Context, plan model.BulkPlan, msg model.LeasedMessage) error {
	switch plan.Kind {
	case model.BulkDelete:
		return e.session.Complete(ctx, msg.Lock)

	case model.BulkDeadLetter:
		return e.session.DeadLetter(ctx, msg.Lock, plan.DeadLetterReason, plan.DeadLetterDescription)

	case model.BulkResend, model.BulkResendAndDelete:
		sibling := plan.Target.Sibling()
		if err := e.session.Send(ctx, sibling, []broker.MessageToSend{{ID: msg.ID, Body: msg.Body}}); err != nil {
			if abandonErr := e.session.Abandon(ctx, msg.Lock); abandonErr != nil {
				e.logger.Warn("abandon after failed resend send failed", zap.Error(abandonErr))
			}
			return err
		}
		if plan.Kind == model.BulkResend {
			if err := e.session.Abandon(ctx, msg.Lock); err != nil {
				e.logger.Warn("abandon after resend without delete failed", zap.Error(err))
			}
			return nil
		}
		if err := e.session.Complete(ctx, msg.Lock); err != nil {
			// The copy landed on the sibling queue but the original's
			// lease could not be settled; the broker will eventually
			// redeliver it, producing a duplicate on the sibling. This
			// is logged explicitly per spec §4.6 rather than retried,
			// since retrying the send here would make the duplicate
			// worse, not better.
			e.logger.Error("resend succeeded but completing the original failed, duplicate is possible",
				zap.String("id", msg.ID), zap.Error(err))
			return err
		}
		return nil

	default:
		return errs.New("bulk_engine", "apply_outcome", errs.KindState, errs.ErrWrongState)
	}
}

func (e *Engine) runSendBulk(ctx context.Context, plan model.BulkPlan) (model.BulkOutcome, error) {
	if plan.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.OverallTimeout)
		defer cancel()
	}

	total := plan.SendCount
	sent := 0
	for sent < total {
		select {
		case <-ctx.Done():
			status := model.BulkCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				status = model.BulkTimedOut
			}
			return model.BulkOutcome{Status: status, Succeeded: placeholderIdentities(sent), CancelledRemaining: placeholderIdentities(total - sent)}, nil
		default:
		}

		batch := plan.BatchSize
		if batch > total-sent {
			batch = total - sent
		}
		toSend := make([]broker.MessageToSend, batch)
		for i := range toSend {
			toSend[i] = broker.MessageToSend{ID: "", Body: plan.SendBody}
		}
		if err := e.session.Send(ctx, plan.Target, toSend); err != nil {
			return model.BulkOutcome{Status: model.BulkPartiallyFailed, Succeeded: placeholderIdentities(sent), CancelledRemaining: placeholderIdentities(total - sent)}, err
		}
		sent += batch
		if e.bus != nil {
			e.bus.Publish(bus.BulkProgress{Processed: sent, Total: total, Phase: bus.BulkPhaseSend})
		}
	}
	return model.BulkOutcome{Status: model.BulkCompleted, Succeeded: placeholderIdentities(total)}, nil
}

// placeholderIdentities stands in for send-bulk's copies, which cannot
// be named by (id, sequence) the way a receive-side cancellation can:
// sent copies carry an empty ID and their broker-assigned sequence is
// not reported back, and the un-sent remainder was never enqueued. The
// entries are counts, not addressable messages.
func placeholderIdentities(n int) []model.Identity {
	out := make([]model.Identity, n)
	return out
}

// doneOutcome classifies a ctx-terminated run: an overall timeout
// (context.DeadlineExceeded) reports TimedOut, while an externally
// cancelled context (context.Canceled) reports Cancelled (spec §4.6,
// §5).
func (e *Engine) doneOutcome(ctx context.Context, succeeded, failed []model.Identity, remaining map[model.Identity]struct{}) model.BulkOutcome {
	cancelledRemaining := make([]model.Identity, 0, len(remaining))
	for id := range remaining {
		cancelledRemaining = append(cancelledRemaining, id)
	}
	status := model.BulkCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = model.BulkTimedOut
	}
	return model.BulkOutcome{
		Status:             status,
		Succeeded:          succeeded,
		Failed:             failed,
		CancelledRemaining: cancelledRemaining,
	}
}

func (e *Engine) reportProgress(processed, total int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.BulkProgress{Processed: processed, Total: total, Phase: bus.BulkPhaseFindThenSettle})
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
