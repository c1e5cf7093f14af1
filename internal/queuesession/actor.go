// Package queuesession implements the single-writer actor that owns the
// broker connection for whichever queue is currently selected (spec
// §4.4). Every other component reaches the broker only by submitting a
// typed request here; the actor processes its inbox strictly in
// arrival order and serializes the broker calls for the active queue.
package queuesession

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// State is the actor's connection lifecycle (spec §4.4's state diagram).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	default:
		return "unknown"
	}
}

// Actor is the queue session actor. Construct with New and run its loop
// with Run in a dedicated goroutine; every other method enqueues a
// request and blocks the caller (not the actor) until a reply arrives,
// except that StatisticsRequest answers a fresh cache hit without
// enqueueing.
type Actor struct {
	client broker.Client
	mgmt   broker.Management
	logger *zap.Logger

	inbox chan any

	generation atomic.Int64

	stats *statsCache
}

// New constructs an Actor. statsTTL governs how long a StatisticsRequest
// result is served from cache before a fresh management call is made
// (spec §4.4's "cached with a configurable TTL").
func New(client broker.Client, mgmt broker.Management, logger *zap.Logger, statsTTL time.Duration) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{
		client: client,
		mgmt:   mgmt,
		logger: logger,
		inbox:  make(chan any, 64),
		stats:  newStatsCache(statsTTL),
	}
}

// Run drains the inbox until ctx is cancelled. It must run in exactly
// one goroutine: the single-writer guarantee depends on it.
func (a *Actor) Run(ctx context.Context) {
	state := StateDisconnected
	var current model.QueueIdentity

	// A non-positive TTL disables the cache; evictC then stays nil and
	// never fires.
	var evictC <-chan time.Time
	if a.stats.ttl > 0 {
		evictTicker := time.NewTicker(a.stats.ttl)
		defer evictTicker.Stop()
		evictC = evictTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-evictC:
			a.stats.evictExpired()

		case raw := <-a.inbox:
			switch req := raw.(type) {
			case *switchRequest:
				state = StateSwitching
				a.drainStaleForGeneration(req.generation)
				if err := a.reconnect(ctx, req.queue); err != nil {
					state = StateDisconnected
					req.reply <- err
					continue
				}
				current = req.queue
				state = StateReady
				req.reply <- nil

			case *peekRequest:
				if state != StateReady || req.queue != current || req.generation != a.generation.Load() {
					req.reply <- peekResult{err: errs.New("queue_session", "peek", errs.KindBroker, errs.ErrCancelled)}
					continue
				}
				a.handlePeek(ctx, req)

			case *deleteRequest:
				if state != StateReady || req.queue != current {
					req.reply <- errs.New("queue_session", "delete", errs.KindBroker, errs.ErrCancelled)
					continue
				}
				a.handleDelete(ctx, req)

			case *deadLetterByIdentityRequest:
				if state != StateReady || req.queue != current {
					req.reply <- errs.New("queue_session", "dead_letter", errs.KindBroker, errs.ErrCancelled)
					continue
				}
				a.handleDeadLetterByIdentity(ctx, req)

			case *resendRequest:
				if state != StateReady || req.queue != current {
					req.reply <- errs.New("queue_session", "resend", errs.KindBroker, errs.ErrCancelled)
					continue
				}
				a.handleResend(ctx, req)

			case *receiveRequest:
				if state != StateReady || req.queue != current {
					req.reply <- receiveResult{err: errs.New("queue_session", "receive", errs.KindBroker, errs.ErrCancelled)}
					continue
				}
				a.handleReceive(ctx, req)

			case *settleRequest:
				if state != StateReady {
					req.reply <- errs.New("queue_session", "settle", errs.KindBroker, errs.ErrCancelled)
					continue
				}
				a.handleSettle(ctx, req)

			case *sendRequest:
				if state != StateReady || req.queue != current {
					req.reply <- errs.New("queue_session", "send", errs.KindBroker, errs.ErrCancelled)
					continue
				}
				req.reply <- a.client.Send(ctx, req.queue, req.batch)

			case *statsRequest:
				a.handleStats(ctx, req)
			}
		}
	}
}

// drainStaleForGeneration fails every request currently buffered in the
// inbox with Cancelled before a SwitchQueue proceeds, implementing the
// barrier semantics of spec §4.4 ("all prior requests for the old queue
// are cancelled before any request for the new queue begins") for
// anything that has not yet started executing. A request already being
// serviced when SwitchQueue is dequeued completes or times out on its
// own terms; the actor is a single synchronous loop so true mid-call
// preemption is not attempted.
func (a *Actor) drainStaleForGeneration(newGeneration int64) {
	a.generation.Store(newGeneration)
	for {
		select {
		case raw := <-a.inbox:
			failStale(raw)
		default:
			return
		}
	}
}

func failStale(raw any) {
	cancelled := errs.New("queue_session", "switch_queue", errs.KindBroker, errs.ErrCancelled)
	switch req := raw.(type) {
	case *peekRequest:
		req.reply <- peekResult{err: cancelled}
	case *deleteRequest:
		req.reply <- cancelled
	case *deadLetterByIdentityRequest:
		req.reply <- cancelled
	case *resendRequest:
		req.reply <- cancelled
	case *receiveRequest:
		req.reply <- receiveResult{err: cancelled}
	case *settleRequest:
		req.reply <- cancelled
	case *sendRequest:
		req.reply <- cancelled
	case *statsRequest:
		req.reply <- statsResult{err: cancelled}
	case *switchRequest:
		req.reply <- cancelled
	}
}

func (a *Actor) reconnect(ctx context.Context, queue model.QueueIdentity) error {
	// Opening handles is lazy inside broker.Client (receiverFor/senderFor
	// on first use), so reconnect here only has to validate reachability
	// with a zero-result peek; this surfaces auth/connectivity failures
	// at SwitchQueue time rather than on the first real operation.
	_, err := a.client.Peek(ctx, queue, 0, 1)
	if err != nil {
		return errs.New("queue_session", "switch_queue", errs.KindBroker, err).WithSubject(queue.Name)
	}
	return nil
}
