package queuesession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/model"
)

type stubManagement struct {
	stats broker.QueueStats
	err   error
	calls int
}

func (s *stubManagement) ListNamespaces(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubManagement) ListQueues(ctx context.Context, namespace string) ([]string, error) {
	return nil, nil
}
func (s *stubManagement) QueueStats(ctx context.Context, queue model.QueueIdentity) (broker.QueueStats, error) {
	s.calls++
	return s.stats, s.err
}

func startActor(t *testing.T, client broker.Client, mgmt broker.Management, ttl time.Duration) (*Actor, func()) {
	t.Helper()
	a := New(client, mgmt, zaptest.NewLogger(t), ttl)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	return a, func() {
		cancel()
		<-done
	}
}

func TestActorSwitchQueueThenPeekPage(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	client.Seed(q, []model.Message{
		{ID: "1", Sequence: 1, Body: []byte("a")},
		{ID: "2", Sequence: 2, Body: []byte("b")},
	})

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, q))

	page, err := a.PeekPage(ctx, q, 0, 10, 0)
	require.NoError(t, err)
	assert.True(t, page.Terminal)
	assert.Len(t, page.Messages, 2)
}

func TestActorPeekPageMarksTerminalWhenShort(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	client.Seed(q, []model.Message{{ID: "1", Sequence: 1, Body: []byte("a")}})

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, q))

	page, err := a.PeekPage(ctx, q, 0, 5, 0)
	require.NoError(t, err)
	assert.True(t, page.Terminal)
}

func TestActorRejectsRequestsBeforeSwitchQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	_, err := a.PeekPage(context.Background(), q, 0, 10, 0)
	assert.Error(t, err)
}

func TestActorDeleteByIdentityCompletesMatchAndAbandonsRest(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	client.Seed(q, []model.Message{
		{ID: "1", Sequence: 1, Body: []byte("a")},
		{ID: "2", Sequence: 2, Body: []byte("b")},
	})

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, q))
	require.NoError(t, a.DeleteByIdentity(ctx, q, model.Identity{ID: "1", Sequence: 1}, 0))

	page, err := a.PeekPage(ctx, q, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "2", page.Messages[0].ID)
}

func TestActorDeleteByIdentityReturnsNotFoundWhenAbsent(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	client.Seed(q, []model.Message{{ID: "1", Sequence: 1, Body: []byte("a")}})

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, q))
	err := a.DeleteByIdentity(ctx, q, model.Identity{ID: "missing", Sequence: 99}, 0)
	assert.Error(t, err)
}

func TestActorStatisticsRequestCachesWithinTTL(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	q := model.QueueIdentity{Name: "orders"}
	mgmt := &stubManagement{stats: broker.QueueStats{ActiveCount: 5}}

	a, stop := startActor(t, client, mgmt, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, q))

	s1, err := a.StatisticsRequest(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s1.ActiveCount)

	mgmt.stats = broker.QueueStats{ActiveCount: 9}
	s2, err := a.StatisticsRequest(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s2.ActiveCount)
	assert.Equal(t, 1, mgmt.calls)
}

func TestActorResendByIdentityDeletesOriginalWhenRequested(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := broker.NewMockClient()
	dlq := model.QueueIdentity{Name: "orders", Sub: model.SubQueueDeadLetter}
	main := model.QueueIdentity{Name: "orders", Sub: model.SubQueueMain}
	client.Seed(dlq, []model.Message{{ID: "1", Sequence: 1, Body: []byte("payload")}})

	a, stop := startActor(t, client, &stubManagement{}, time.Minute)
	defer stop()

	ctx := context.Background()
	require.NoError(t, a.SwitchQueue(ctx, dlq))
	require.NoError(t, a.ResendByIdentity(ctx, dlq, model.Identity{ID: "1", Sequence: 1}, true, 0))

	sent := client.Sent[main.WireName()]
	require.Len(t, sent, 1)
	assert.Equal(t, "1", sent[0].ID)

	remaining, err := a.PeekPage(ctx, dlq, 0, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining.Messages)
}
