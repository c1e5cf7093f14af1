// Package broker is a thin, language-neutral facade over the message
// broker's native peek/receive/settle/send/management operations (spec
// §4.3, §6.1). The facade is polymorphic over a small capability set so
// a mock implementation can drive offline tests of the queue session
// actor and the bulk engine without any network access (spec §9).
package broker

import (
	"context"
	"time"

	"github.com/dawidpereira/quetty/internal/model"
)

// DeadLetterOptions carries the reason/description pair attached when a
// message is moved to the dead-letter sub-queue.
type DeadLetterOptions struct {
	Reason      string
	Description string
}

// QueueStats is the result of a management statistics query (spec §6.1).
type QueueStats struct {
	ActiveCount    int64
	DeadLetterCount int64
	ScheduledCount int64
}

// MessageToSend is a client-constructed message handed to Send; the
// broker assigns its sequence number on durable enqueue.
type MessageToSend struct {
	ID   string
	Body []byte
}

// Client is the capability set the Queue Session Actor holds exclusively
// for the currently selected queue (spec §4.4, §5). Every operation is
// asynchronous (accepts a context) and cancellable.
type Client interface {
	// Peek returns messages with Sequence >= fromSequence in increasing
	// sequence order, non-destructively. A short result with no error
	// means the queue is exhausted at this cursor; a zero-length result
	// with no error means "nothing new right now".
	Peek(ctx context.Context, queue model.QueueIdentity, fromSequence int64, maxCount int) ([]model.Message, error)

	// Receive destructively leases up to maxCount messages. Each
	// returned message must be settled before its lock expires.
	Receive(ctx context.Context, queue model.QueueIdentity, maxCount int) ([]model.LeasedMessage, error)

	// Complete, Abandon, and DeadLetter settle a previously leased
	// message, terminating its lock.
	Complete(ctx context.Context, lock model.LockToken) error
	Abandon(ctx context.Context, lock model.LockToken) error
	DeadLetter(ctx context.Context, lock model.LockToken, opts DeadLetterOptions) error

	// Send durably enqueues a batch of client-constructed messages.
	Send(ctx context.Context, queue model.QueueIdentity, batch []MessageToSend) error

	// Close releases any open handles for this client. It is the Queue
	// Session Actor's responsibility to call this on SwitchQueue/shutdown.
	Close(ctx context.Context) error
}

// Management is the out-of-band administrative surface, a separate
// HTTPS endpoint from the AMQP-like transport Client uses (spec §6.1).
type Management interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	ListQueues(ctx context.Context, namespace string) ([]string, error)
	QueueStats(ctx context.Context, queue model.QueueIdentity) (QueueStats, error)
}

// TokenSource supplies a bearer access string; it is satisfied by the
// identity package's Provider. AzureManagement does not take a
// TokenSource: its bearer-token policy uses an azcore.TokenCredential.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// PerAttemptTimeout wraps ctx with timeout if timeout is positive,
// returning ctx and a no-op cancel otherwise. The queue session actor's
// peek, receive, delete, dead-letter and resend handlers go through this
// so a configured per-attempt timeout (spec §6.2 poll_timeout_ms) is
// honored; its settle, send, statistics and reconnect calls run on the
// actor's own context.
func PerAttemptTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
