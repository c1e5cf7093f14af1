package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/model"
)

type stubFlow struct {
	mu           sync.Mutex
	acquireCalls int
	refreshCalls int
	acquireToken model.Token
	acquireErr   error
	refreshToken model.Token
	refreshOK    bool
	refreshErr   error
}

func (s *stubFlow) Acquire(ctx context.Context) (model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireCalls++
	return s.acquireToken, s.acquireErr
}

func (s *stubFlow) Refresh(ctx context.Context, current model.Token) (model.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	return s.refreshToken, s.refreshOK, s.refreshErr
}

func TestProviderAcquiresOnFirstCall(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{acquireToken: model.Token{Access: "tok", NotAfter: time.Now().Add(time.Hour)}}
	p := New(flow, zaptest.NewLogger(t), nil)
	p.limiter.SetLimit(1000)

	access, err := p.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", access)
	assert.Equal(t, 1, flow.acquireCalls)
}

func TestProviderReusesValidToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{acquireToken: model.Token{Access: "tok", NotAfter: time.Now().Add(time.Hour)}}
	p := New(flow, zaptest.NewLogger(t), nil)
	p.limiter.SetLimit(1000)

	_, err := p.GetAccessToken(context.Background())
	require.NoError(t, err)
	_, err = p.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flow.acquireCalls)
}

func TestProviderPrefersRefreshOverAcquire(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{
		refreshOK:    true,
		refreshToken: model.Token{Access: "refreshed", NotAfter: time.Now().Add(time.Hour)},
	}
	p := New(flow, zaptest.NewLogger(t), nil)
	p.limiter.SetLimit(1000)

	access, err := p.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", access)
	assert.Equal(t, 0, flow.acquireCalls)
	assert.Equal(t, 1, flow.refreshCalls)
}

func TestProviderFallsBackToAcquireWhenRefreshDeclines(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{
		refreshOK:    false,
		acquireToken: model.Token{Access: "acquired", NotAfter: time.Now().Add(time.Hour)},
	}
	p := New(flow, zaptest.NewLogger(t), nil)
	p.limiter.SetLimit(1000)

	access, err := p.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acquired", access)
	assert.Equal(t, 1, flow.acquireCalls)
}

func TestProviderEmitsAuthFailedOnTerminalFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{acquireErr: errors.New("denied")}
	b := bus.New(4)
	p := New(flow, zaptest.NewLogger(t), b)
	p.limiter.SetLimit(1000)

	_, err := p.GetAccessToken(context.Background())
	require.Error(t, err)

	evt := <-b.Events()
	_, ok := evt.Payload.(bus.AuthFailed)
	assert.True(t, ok)
}

func TestProviderConcurrentCallersShareOneRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	flow := &stubFlow{acquireToken: model.Token{Access: "tok", NotAfter: time.Now().Add(time.Hour)}}
	p := New(flow, zaptest.NewLogger(t), nil)
	p.limiter.SetLimit(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetAccessToken(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flow.acquireCalls)
}
