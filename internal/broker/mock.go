package broker

import (
	"context"
	"sort"
	"sync"

	"github.com/dawidpereira/quetty/internal/model"
)

// MockClient is an in-memory Client implementation used to drive
// offline tests of the queue session actor and the bulk engine without
// any network access (spec §9). It is exported (not _test.go) so other
// packages' test suites can reuse it.
type MockClient struct {
	mu sync.Mutex

	// Queues maps a wire name to its ordered backlog of messages,
	// sorted by ascending sequence. Tests seed this directly.
	Queues map[string][]model.Message

	// leased tracks messages currently out on lease, keyed by the lock
	// token MockClient hands out.
	leased map[model.LockToken]leasedEntry

	// Sent records every batch handed to Send, for assertions.
	Sent map[string][]MessageToSend

	nextLock int

	// FailPeek/FailReceive/FailSend/FailSettle, when non-nil, are
	// returned verbatim by the corresponding method instead of normal
	// behavior — used to simulate transient broker failures.
	FailPeek    error
	FailReceive error
	FailSend    error
	FailSettle  error
}

type leasedEntry struct {
	queue string
	msg   model.Message
}

// NewMockClient constructs an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Queues: make(map[string][]model.Message),
		leased: make(map[model.LockToken]leasedEntry),
		Sent:   make(map[string][]MessageToSend),
	}
}

// Seed installs msgs (which must already be sequence-sorted) as the
// backlog for queue.
func (m *MockClient) Seed(queue model.QueueIdentity, msgs []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Message, len(msgs))
	copy(cp, msgs)
	m.Queues[queue.WireName()] = cp
}

func (m *MockClient) Peek(ctx context.Context, queue model.QueueIdentity, fromSequence int64, maxCount int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPeek != nil {
		return nil, m.FailPeek
	}

	backlog := m.Queues[queue.WireName()]
	out := make([]model.Message, 0, maxCount)
	for _, msg := range backlog {
		if msg.Sequence < fromSequence {
			continue
		}
		out = append(out, msg)
		if len(out) == maxCount {
			break
		}
	}
	return out, nil
}

func (m *MockClient) Receive(ctx context.Context, queue model.QueueIdentity, maxCount int) ([]model.LeasedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReceive != nil {
		return nil, m.FailReceive
	}

	backlog := m.Queues[queue.WireName()]
	out := make([]model.LeasedMessage, 0, maxCount)
	remaining := backlog[:0:0]
	taken := 0
	for _, msg := range backlog {
		if taken < maxCount {
			m.nextLock++
			token := model.LockToken(string(rune('a'+m.nextLock%26)) + itoa(m.nextLock))
			m.leased[token] = leasedEntry{queue: queue.WireName(), msg: msg}
			out = append(out, model.LeasedMessage{Message: msg, Lock: token})
			taken++
		} else {
			remaining = append(remaining, msg)
		}
	}
	m.Queues[queue.WireName()] = remaining
	return out, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (m *MockClient) Complete(ctx context.Context, lock model.LockToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSettle != nil {
		return m.FailSettle
	}
	delete(m.leased, lock)
	return nil
}

func (m *MockClient) Abandon(ctx context.Context, lock model.LockToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSettle != nil {
		return m.FailSettle
	}
	entry, ok := m.leased[lock]
	if !ok {
		return nil
	}
	delete(m.leased, lock)
	entry.msg.DeliveryCount++
	backlog := append(m.Queues[entry.queue], entry.msg)
	sort.Slice(backlog, func(i, j int) bool { return backlog[i].Sequence < backlog[j].Sequence })
	m.Queues[entry.queue] = backlog
	return nil
}

func (m *MockClient) DeadLetter(ctx context.Context, lock model.LockToken, opts DeadLetterOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSettle != nil {
		return m.FailSettle
	}
	delete(m.leased, lock)
	return nil
}

func (m *MockClient) Send(ctx context.Context, queue model.QueueIdentity, batch []MessageToSend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend != nil {
		return m.FailSend
	}
	m.Sent[queue.WireName()] = append(m.Sent[queue.WireName()], batch...)

	backlog := m.Queues[queue.WireName()]
	nextSeq := int64(1)
	if len(backlog) > 0 {
		nextSeq = backlog[len(backlog)-1].Sequence + 1
	}
	for _, sendMsg := range batch {
		backlog = append(backlog, model.Message{ID: sendMsg.ID, Sequence: nextSeq, Body: sendMsg.Body, State: model.StateActive})
		nextSeq++
	}
	m.Queues[queue.WireName()] = backlog
	return nil
}

func (m *MockClient) Close(ctx context.Context) error {
	return nil
}
