package queuesession

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

type switchRequest struct {
	queue      model.QueueIdentity
	generation int64
	reply      chan error
}

// SwitchQueue transitions the actor to own queue instead of whatever it
// currently holds, cancelling all requests still queued for the old
// generation (spec §4.4).
func (a *Actor) SwitchQueue(ctx context.Context, queue model.QueueIdentity) error {
	reply := make(chan error, 1)
	req := &switchRequest{queue: queue, generation: a.generation.Load() + 1, reply: reply}
	select {
	case a.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type peekRequest struct {
	queue      model.QueueIdentity
	generation int64
	from       int64
	pageSize   int
	timeout    time.Duration
	reply      chan peekResult
}

type peekResult struct {
	page model.CachedPage
	err  error
}

// PeekPage issues a non-destructive peek starting at fromSequence,
// returning a CachedPage marked Terminal when the broker returned fewer
// than pageSize messages (spec §4.4, §4.5).
func (a *Actor) PeekPage(ctx context.Context, queue model.QueueIdentity, fromSequence int64, pageSize int, timeout time.Duration) (model.CachedPage, error) {
	reply := make(chan peekResult, 1)
	req := &peekRequest{queue: queue, generation: a.generation.Load(), from: fromSequence, pageSize: pageSize, timeout: timeout, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return model.CachedPage{}, err
	}
	select {
	case res := <-reply:
		return res.page, res.err
	case <-ctx.Done():
		return model.CachedPage{}, ctx.Err()
	}
}

func (a *Actor) handlePeek(ctx context.Context, req *peekRequest) {
	callCtx, cancel := broker.PerAttemptTimeout(ctx, req.timeout)
	defer cancel()

	msgs, err := a.client.Peek(callCtx, req.queue, req.from, req.pageSize)
	if err != nil {
		req.reply <- peekResult{err: err}
		return
	}
	req.reply <- peekResult{page: model.CachedPage{
		Messages: msgs,
		Terminal: len(msgs) < req.pageSize,
	}}
}

type deleteRequest struct {
	queue    model.QueueIdentity
	id       model.Identity
	timeout  time.Duration
	reply    chan error
}

// DeleteByIdentity locates and completes the message named by id using
// the find-then-settle matching described in spec §4.6, scoped to a
// single message rather than a batch.
func (a *Actor) DeleteByIdentity(ctx context.Context, queue model.QueueIdentity, id model.Identity, timeout time.Duration) error {
	reply := make(chan error, 1)
	req := &deleteRequest{queue: queue, id: id, timeout: timeout, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleDelete(ctx context.Context, req *deleteRequest) {
	callCtx, cancel := broker.PerAttemptTimeout(ctx, req.timeout)
	defer cancel()
	req.reply <- a.findAndSettle(callCtx, req.queue, req.id, func(lock model.LockToken) error {
		return a.client.Complete(callCtx, lock)
	})
}

type deadLetterByIdentityRequest struct {
	queue       model.QueueIdentity
	id          model.Identity
	reason      string
	description string
	timeout     time.Duration
	reply       chan error
}

// DeadLetterByIdentity locates the message named by id and moves it to
// the queue's dead-letter sub-queue with the given reason/description.
func (a *Actor) DeadLetterByIdentity(ctx context.Context, queue model.QueueIdentity, id model.Identity, reason, description string, timeout time.Duration) error {
	reply := make(chan error, 1)
	req := &deadLetterByIdentityRequest{queue: queue, id: id, reason: reason, description: description, timeout: timeout, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleDeadLetterByIdentity(ctx context.Context, req *deadLetterByIdentityRequest) {
	callCtx, cancel := broker.PerAttemptTimeout(ctx, req.timeout)
	defer cancel()
	opts := broker.DeadLetterOptions{Reason: req.reason, Description: req.description}
	req.reply <- a.findAndSettle(callCtx, req.queue, req.id, func(lock model.LockToken) error {
		return a.client.DeadLetter(callCtx, lock, opts)
	})
}

// findAndSettle is the single-message degenerate case of the bulk
// engine's find-then-settle loop (spec §4.6): one receive of up to 32
// messages from the head of the queue, match by identity, apply the
// outcome to the match and abandon the rest. A target that is not among
// those messages is reported as ErrNotFound; no further receive is made.
func (a *Actor) findAndSettle(ctx context.Context, queue model.QueueIdentity, id model.Identity, apply func(model.LockToken) error) error {
	const window = 32
	leased, err := a.client.Receive(ctx, queue, window)
	if err != nil {
		return err
	}

	var matchErr error
	found := false
	for _, msg := range leased {
		if msg.Identity() == id {
			found = true
			matchErr = apply(msg.Lock)
			continue
		}
		if err := a.client.Abandon(ctx, msg.Lock); err != nil {
			a.logger.Warn("abandon during find-and-settle failed", zap.Error(err))
		}
	}
	if !found {
		return errs.New("queue_session", "find_and_settle", errs.KindState, errs.ErrNotFound).WithSubject(id.ID)
	}
	return matchErr
}

type resendRequest struct {
	queue          model.QueueIdentity
	id             model.Identity
	deleteOriginal bool
	timeout        time.Duration
	reply          chan error
}

// ResendByIdentity implements spec §4.4's resend operation: locate the
// message on the dead-letter sub-queue, send a copy to the sibling main
// queue, then complete (deleteOriginal=true) or abandon the original.
func (a *Actor) ResendByIdentity(ctx context.Context, queue model.QueueIdentity, id model.Identity, deleteOriginal bool, timeout time.Duration) error {
	reply := make(chan error, 1)
	req := &resendRequest{queue: queue, id: id, deleteOriginal: deleteOriginal, timeout: timeout, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleResend(ctx context.Context, req *resendRequest) {
	callCtx, cancel := broker.PerAttemptTimeout(ctx, req.timeout)
	defer cancel()

	const window = 32
	leased, err := a.client.Receive(callCtx, req.queue, window)
	if err != nil {
		req.reply <- err
		return
	}

	var target *model.LeasedMessage
	for i := range leased {
		if leased[i].Identity() == req.id {
			target = &leased[i]
			continue
		}
		if err := a.client.Abandon(callCtx, leased[i].Lock); err != nil {
			a.logger.Warn("abandon during resend failed", zap.Error(err))
		}
	}
	if target == nil {
		req.reply <- errs.New("queue_session", "resend", errs.KindState, errs.ErrNotFound).WithSubject(req.id.ID)
		return
	}

	sibling := req.queue.Sibling()
	sendErr := a.client.Send(callCtx, sibling, []broker.MessageToSend{{ID: target.ID, Body: target.Body}})
	if sendErr != nil {
		if err := a.client.Abandon(callCtx, target.Lock); err != nil {
			a.logger.Warn("abandon after failed resend send failed", zap.Error(err))
		}
		req.reply <- sendErr
		return
	}

	if req.deleteOriginal {
		req.reply <- a.client.Complete(callCtx, target.Lock)
		return
	}
	if err := a.client.Abandon(callCtx, target.Lock); err != nil {
		a.logger.Warn("abandon after resend without delete failed", zap.Error(err))
	}
	req.reply <- nil
}

type receiveRequest struct {
	queue    model.QueueIdentity
	maxCount int
	timeout  time.Duration
	reply    chan receiveResult
}

type receiveResult struct {
	leased []model.LeasedMessage
	err    error
}

// Receive exposes a destructive lease against the active queue for the
// bulk engine's find-then-settle loop (spec §4.6). Callers other than
// the bulk engine should prefer PeekPage / DeleteByIdentity /
// DeadLetterByIdentity / ResendByIdentity.
func (a *Actor) Receive(ctx context.Context, queue model.QueueIdentity, maxCount int, timeout time.Duration) ([]model.LeasedMessage, error) {
	reply := make(chan receiveResult, 1)
	req := &receiveRequest{queue: queue, maxCount: maxCount, timeout: timeout, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.leased, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) handleReceive(ctx context.Context, req *receiveRequest) {
	callCtx, cancel := broker.PerAttemptTimeout(ctx, req.timeout)
	defer cancel()
	leased, err := a.client.Receive(callCtx, req.queue, req.maxCount)
	req.reply <- receiveResult{leased: leased, err: err}
}

type settleKind int

const (
	settleComplete settleKind = iota
	settleAbandon
	settleDeadLetter
)

type settleRequest struct {
	lock   model.LockToken
	kind   settleKind
	reason string
	desc   string
	reply  chan error
}

// Complete, Abandon, and DeadLetter settle a previously leased message
// by lock token, for the bulk engine (spec §4.6).
func (a *Actor) Complete(ctx context.Context, lock model.LockToken) error {
	return a.settle(ctx, &settleRequest{lock: lock, kind: settleComplete, reply: make(chan error, 1)})
}

func (a *Actor) Abandon(ctx context.Context, lock model.LockToken) error {
	return a.settle(ctx, &settleRequest{lock: lock, kind: settleAbandon, reply: make(chan error, 1)})
}

func (a *Actor) DeadLetter(ctx context.Context, lock model.LockToken, reason, description string) error {
	return a.settle(ctx, &settleRequest{lock: lock, kind: settleDeadLetter, reason: reason, desc: description, reply: make(chan error, 1)})
}

func (a *Actor) settle(ctx context.Context, req *settleRequest) error {
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) handleSettle(ctx context.Context, req *settleRequest) {
	switch req.kind {
	case settleComplete:
		req.reply <- a.client.Complete(ctx, req.lock)
	case settleAbandon:
		req.reply <- a.client.Abandon(ctx, req.lock)
	case settleDeadLetter:
		req.reply <- a.client.DeadLetter(ctx, req.lock, broker.DeadLetterOptions{Reason: req.reason, Description: req.desc})
	}
}

type sendRequest struct {
	queue model.QueueIdentity
	batch []broker.MessageToSend
	reply chan error
}

// Send enqueues batch onto queue, for both resend's copy step and the
// bulk engine's send-bulk operation.
func (a *Actor) Send(ctx context.Context, queue model.QueueIdentity, batch []broker.MessageToSend) error {
	reply := make(chan error, 1)
	req := &sendRequest{queue: queue, batch: batch, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send enqueues req onto the actor's inbox, respecting ctx for callers
// that give up before the actor drains it (the inbox is buffered but
// still backpressured once full, per spec §4.4).
func (a *Actor) send(ctx context.Context, req any) error {
	select {
	case a.inbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
