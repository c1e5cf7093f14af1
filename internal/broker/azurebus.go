package broker

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/errs"
	"github.com/dawidpereira/quetty/internal/model"
)

// AzureClient is the concrete Client implementation backed by
// github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus. It owns
// one receiver per (queue, sub-queue) pair and one sender per queue
// name, each opened on demand, and is NOT safe for concurrent use across queues — the Queue Session
// Actor is the single caller, per spec §4.4/§5.
type AzureClient struct {
	sb     *azservicebus.Client
	logger *zap.Logger

	receivers map[model.QueueIdentity]*azservicebus.Receiver
	senders   map[string]*azservicebus.Sender

	// pending correlates the opaque LockToken this package hands out
	// with the SDK's *azservicebus.ReceivedMessage, which is what
	// Complete/Abandon/DeadLetter actually need. Spec §4.3 requires lock
	// tokens to be opaque from the caller's point of view.
	pending map[model.LockToken]pendingLease
}

type pendingLease struct {
	queue   model.QueueIdentity
	message *azservicebus.ReceivedMessage
}

// NewAzureClient wraps an already-constructed azservicebus.Client.
// Construction of the SDK client itself (connection string vs.
// TokenCredential) is the caller's concern; this keeps AzureClient
// agnostic to the authentication method selected in spec §4.2.
func NewAzureClient(sb *azservicebus.Client, logger *zap.Logger) *AzureClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureClient{
		sb:        sb,
		logger:    logger,
		receivers: make(map[model.QueueIdentity]*azservicebus.Receiver),
		senders:   make(map[string]*azservicebus.Sender),
		pending:   make(map[model.LockToken]pendingLease),
	}
}

func (c *AzureClient) receiverFor(queue model.QueueIdentity) (*azservicebus.Receiver, error) {
	if r, ok := c.receivers[queue]; ok {
		return r, nil
	}

	opts := &azservicebus.ReceiverOptions{ReceiveMode: azservicebus.ReceiveModePeekLock}
	if queue.Sub == model.SubQueueDeadLetter {
		opts.SubQueue = azservicebus.SubQueueDeadLetter
	}

	r, err := c.sb.NewReceiverForQueue(queue.Name, opts)
	if err != nil {
		return nil, errs.New("broker_client", "open_receiver", errs.KindBroker, err).WithSubject(queue.Name)
	}
	c.receivers[queue] = r
	return r, nil
}

func (c *AzureClient) senderFor(queueName string) (*azservicebus.Sender, error) {
	if s, ok := c.senders[queueName]; ok {
		return s, nil
	}
	s, err := c.sb.NewSender(queueName, nil)
	if err != nil {
		return nil, errs.New("broker_client", "open_sender", errs.KindBroker, err).WithSubject(queueName)
	}
	c.senders[queueName] = s
	return s, nil
}

func (c *AzureClient) Peek(ctx context.Context, queue model.QueueIdentity, fromSequence int64, maxCount int) ([]model.Message, error) {
	r, err := c.receiverFor(queue)
	if err != nil {
		return nil, err
	}

	peeked, err := r.PeekMessages(ctx, maxCount, &azservicebus.PeekMessagesOptions{
		FromSequenceNumber: &fromSequence,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]model.Message, 0, len(peeked))
	for _, m := range peeked {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

func (c *AzureClient) Receive(ctx context.Context, queue model.QueueIdentity, maxCount int) ([]model.LeasedMessage, error) {
	r, err := c.receiverFor(queue)
	if err != nil {
		return nil, err
	}

	received, err := r.ReceiveMessages(ctx, maxCount, nil)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]model.LeasedMessage, 0, len(received))
	for _, m := range received {
		token := lockTokenFor(m)
		c.pending[token] = pendingLease{queue: queue, message: m}
		out = append(out, model.LeasedMessage{
			Message: convertMessage(m),
			Lock:    token,
		})
	}
	return out, nil
}

func lockTokenFor(m *azservicebus.ReceivedMessage) model.LockToken {
	if m.LockToken != nil {
		return model.LockToken(m.LockToken.String())
	}
	return model.LockToken(m.MessageID)
}

func convertMessage(m *azservicebus.ReceivedMessage) model.Message {
	msg := model.Message{
		ID:            m.MessageID,
		Sequence:      sequenceOf(m),
		DeliveryCount: int(m.DeliveryCount),
		Body:          m.Body,
		State:         model.StateActive,
	}
	if m.EnqueuedTime != nil {
		msg.EnqueuedAt = *m.EnqueuedTime
	}
	if m.DeadLetterReason != nil || m.DeadLetterErrorDescription != nil {
		msg.State = model.StateDeadLettered
		info := &model.DeadLetterInfo{}
		if m.DeadLetterReason != nil {
			info.Reason = *m.DeadLetterReason
		}
		if m.DeadLetterErrorDescription != nil {
			info.Description = *m.DeadLetterErrorDescription
		}
		msg.DeadLetter = info
	}
	return msg
}

func sequenceOf(m *azservicebus.ReceivedMessage) int64 {
	if m.SequenceNumber != nil {
		return *m.SequenceNumber
	}
	return 0
}

func (c *AzureClient) takePending(lock model.LockToken) (pendingLease, bool) {
	p, ok := c.pending[lock]
	if ok {
		delete(c.pending, lock)
	}
	return p, ok
}

func (c *AzureClient) Complete(ctx context.Context, lock model.LockToken) error {
	p, ok := c.takePending(lock)
	if !ok {
		return errs.New("broker_client", "complete", errs.KindState, errs.ErrWrongState)
	}
	r, err := c.receiverFor(p.queue)
	if err != nil {
		return err
	}
	return classifyError(r.CompleteMessage(ctx, p.message, nil))
}

func (c *AzureClient) Abandon(ctx context.Context, lock model.LockToken) error {
	p, ok := c.takePending(lock)
	if !ok {
		return errs.New("broker_client", "abandon", errs.KindState, errs.ErrWrongState)
	}
	r, err := c.receiverFor(p.queue)
	if err != nil {
		return err
	}
	return classifyError(r.AbandonMessage(ctx, p.message, nil))
}

func (c *AzureClient) DeadLetter(ctx context.Context, lock model.LockToken, opts DeadLetterOptions) error {
	p, ok := c.takePending(lock)
	if !ok {
		return errs.New("broker_client", "dead_letter", errs.KindState, errs.ErrWrongState)
	}
	r, err := c.receiverFor(p.queue)
	if err != nil {
		return err
	}
	return classifyError(r.DeadLetterMessage(ctx, p.message, &azservicebus.DeadLetterOptions{
		Reason:           &opts.Reason,
		ErrorDescription: &opts.Description,
	}))
}

func (c *AzureClient) Send(ctx context.Context, queue model.QueueIdentity, batch []MessageToSend) error {
	s, err := c.senderFor(queue.Name)
	if err != nil {
		return err
	}

	b, err := s.NewMessageBatch(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	for _, m := range batch {
		id := m.ID
		sbMsg := &azservicebus.Message{Body: m.Body, MessageID: &id}
		if err := b.AddMessage(sbMsg, nil); err != nil {
			if err := s.SendMessageBatch(ctx, b, nil); err != nil {
				return classifyError(err)
			}
			b, err = s.NewMessageBatch(ctx, nil)
			if err != nil {
				return classifyError(err)
			}
			if err := b.AddMessage(sbMsg, nil); err != nil {
				return classifyError(err)
			}
		}
	}
	if b.NumMessages() > 0 {
		if err := s.SendMessageBatch(ctx, b, nil); err != nil {
			return classifyError(err)
		}
	}
	return nil
}

func (c *AzureClient) Close(ctx context.Context) error {
	var firstErr error
	for q, r := range c.receivers {
		if err := r.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.receivers, q)
	}
	for name, s := range c.senders {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.senders, name)
	}
	c.pending = make(map[model.LockToken]pendingLease)
	return firstErr
}

// classifyError maps an azservicebus error into quetty's error taxonomy
// so the actor layer never imports the broker SDK's error types (spec
// §4.3).
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) {
		switch sbErr.Code {
		case azservicebus.CodeLockLost:
			return errs.New("broker_client", "settle", errs.KindBroker, errs.ErrLockLost)
		case azservicebus.CodeTimeout:
			return errs.New("broker_client", "call", errs.KindBroker, errs.ErrTimeout)
		case azservicebus.CodeNotFound:
			return errs.New("broker_client", "call", errs.KindBroker, errs.ErrNotFound)
		case azservicebus.CodeUnauthorizedAccess:
			return errs.New("broker_client", "call", errs.KindBroker, errs.ErrUnauthorized)
		default:
			return errs.New("broker_client", "call", errs.KindBroker, errs.ErrTransient)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New("broker_client", "call", errs.KindBroker, errs.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return errs.New("broker_client", "call", errs.KindBroker, errs.ErrCancelled)
	}

	return errs.New("broker_client", "call", errs.KindBroker, errs.ErrTransient)
}
