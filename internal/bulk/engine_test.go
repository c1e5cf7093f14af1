package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/model"
)

// actorSession adapts broker.MockClient to the Session interface the
// engine expects, bypassing the queue session actor entirely so these
// tests exercise the engine's algorithm in isolation.
type actorSession struct {
	client *broker.MockClient
}

func (a *actorSession) Receive(ctx context.Context, queue model.QueueIdentity, maxCount int, timeout time.Duration) ([]model.LeasedMessage, error) {
	return a.client.Receive(ctx, queue, maxCount)
}
func (a *actorSession) Complete(ctx context.Context, lock model.LockToken) error {
	return a.client.Complete(ctx, lock)
}
func (a *actorSession) Abandon(ctx context.Context, lock model.LockToken) error {
	return a.client.Abandon(ctx, lock)
}
func (a *actorSession) DeadLetter(ctx context.Context, lock model.LockToken, reason, description string) error {
	return a.client.DeadLetter(ctx, lock, broker.DeadLetterOptions{Reason: reason, Description: description})
}
func (a *actorSession) Send(ctx context.Context, queue model.QueueIdentity, batch []broker.MessageToSend) error {
	return a.client.Send(ctx, queue, batch)
}

func seed(t *testing.T, client *broker.MockClient, q model.QueueIdentity, n int) []model.Identity {
	t.Helper()
	msgs := make([]model.Message, n)
	ids := make([]model.Identity, n)
	for i := 0; i < n; i++ {
		msgs[i] = model.Message{ID: "m" + string(rune('a'+i)), Sequence: int64(i + 1), Body: []byte("x")}
		ids[i] = msgs[i].Identity()
	}
	client.Seed(q, msgs)
	return ids
}

func defaultLimits() model.Limits {
	return model.Limits{MaxBatchSize: 1000, MaxMessagesToProcess: 10000}
}

func TestEngineDeleteBulkCompletesEverySelectedMessage(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 5)

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{Kind: model.BulkDelete, Target: q, Selection: ids, BatchSize: 2, OverallTimeout: time.Second}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkCompleted, outcome.Status)
	assert.Len(t, outcome.Succeeded, 5)
	assert.Empty(t, outcome.Failed)

	remaining, err := client.Peek(context.Background(), q, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestEnginePolicyViolationRejectedBeforeIO(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 3)

	e := New(&actorSession{client: client}, model.Limits{MaxBatchSize: 1, MaxMessagesToProcess: 10000}, zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{Kind: model.BulkDelete, Target: q, Selection: ids, BatchSize: 50}

	_, err := e.Run(context.Background(), plan)
	assert.Error(t, err)

	remaining, _ := client.Peek(context.Background(), q, 0, 100)
	assert.Len(t, remaining, 3, "rejected plan must not touch the broker")
}

func TestEngineDeadLetterBulk(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 2)

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{
		Kind: model.BulkDeadLetter, Target: q, Selection: ids, BatchSize: 10,
		DeadLetterReason: "expired", DeadLetterDescription: "ttl exceeded",
	}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkCompleted, outcome.Status)
	assert.Len(t, outcome.Succeeded, 2)
}

func TestEngineResendAndDeleteSendsToMainAndCompletesDLQOriginal(t *testing.T) {
	client := broker.NewMockClient()
	dlq := model.QueueIdentity{Name: "orders", Sub: model.SubQueueDeadLetter}
	main := model.QueueIdentity{Name: "orders", Sub: model.SubQueueMain}
	ids := seed(t, client, dlq, 3)

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{Kind: model.BulkResendAndDelete, Target: dlq, Selection: ids, BatchSize: 10}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkCompleted, outcome.Status)
	assert.Len(t, client.Sent[main.WireName()], 3)

	remaining, _ := client.Peek(context.Background(), dlq, 0, 100)
	assert.Empty(t, remaining)
}

func TestEngineSendBulkBatchesByMaxBatchSize(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{Target: q, BatchSize: 3, SendCount: 7, SendBody: []byte("hello")}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkCompleted, outcome.Status)
	assert.Len(t, client.Sent[q.WireName()], 7)
}

func TestEngineCancellationStopsBeforeNewBatches(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{Kind: model.BulkDelete, Target: q, Selection: ids, BatchSize: 2}

	outcome, err := e.Run(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkCancelled, outcome.Status)
	assert.Len(t, outcome.CancelledRemaining, 4)
}

func TestEngineOverallTimeoutReportsTimedOutNotCancelled(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 4)

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	plan := model.BulkPlan{
		Kind: model.BulkDelete, Target: q, Selection: ids, BatchSize: 2,
		OverallTimeout: time.Nanosecond,
	}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkTimedOut, outcome.Status)
}

func TestEngineAttemptExhaustionReportsPartiallyFailed(t *testing.T) {
	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	ids := seed(t, client, q, 2)
	// Selection also names an identity the mock broker never delivers, so
	// once the two seeded messages are settled every further receive
	// comes back empty until DLQMaxAttempts is exhausted.
	missing := []model.Identity{{ID: "ghost", Sequence: 999}}

	e := New(&actorSession{client: client}, defaultLimits(), zaptest.NewLogger(t), nil)
	e.DLQMaxAttempts = 2
	e.DLQRetryDelay = 0
	plan := model.BulkPlan{Kind: model.BulkDelete, Target: q, Selection: append(ids, missing...), BatchSize: 10}

	outcome, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.BulkPartiallyFailed, outcome.Status)
}
