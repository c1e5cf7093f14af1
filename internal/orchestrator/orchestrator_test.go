package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/errs"
)

func drainUntil(t *testing.T, b *bus.Bus, want func(any) bool, timeout time.Duration) any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-b.Events():
			if want(evt.Payload) {
				return evt.Payload
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected event")
			return nil
		}
	}
}

func TestExecuteEmitsLoadingThenStoppedOnSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	o.Execute(context.Background(), "t1", "working", func(ctx context.Context) (any, error) {
		return "done", nil
	})

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.Loading); return ok }, time.Second)
	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
}

func TestExecuteWithCallbacksInvokesOnSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	resultCh := make(chan any, 1)
	o.ExecuteWithCallbacks(context.Background(), "t2", "working",
		func(ctx context.Context) (any, error) { return 42, nil },
		func(v any) { resultCh <- v },
		nil,
	)

	select {
	case v := <-resultCh:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("onSuccess not called")
	}
	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
}

func TestExecuteWithCallbacksOnErrorSupersedesDefaultRouting(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	errCh := make(chan error, 1)
	boom := errors.New("boom")
	o.ExecuteWithCallbacks(context.Background(), "t3", "working",
		func(ctx context.Context) (any, error) { return nil, boom },
		nil,
		func(err error) { errCh <- err },
	)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("onError not called")
	}

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
	// No default-routed popup should follow since onError was supplied.
	select {
	case evt := <-b.Events():
		if _, ok := evt.Payload.(bus.Popup); ok {
			t.Fatal("unexpected default error routing when onError was supplied")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestExecuteDefaultRoutingPublishesPopupOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	o.Execute(context.Background(), "t4", "working", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.Popup); return ok }, time.Second)
}

func TestExecuteWithProgressRelabelsLoadingIndicator(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	o.ExecuteWithProgress(context.Background(), "t5", "starting", func(h *Handle) (any, error) {
		h.Progress("halfway")
		return nil, nil
	})

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.Loading); return ok }, time.Second)
	drainUntil(t, b, func(p any) bool { e, ok := p.(bus.LoadingProgress); return ok && e.Label == "halfway" }, time.Second)
	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
}

func TestCancelStopsTaskCooperatively(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	started := make(chan struct{})
	o.Execute(context.Background(), "t6", "working", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	o.Cancel("t6")

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New(16)
	o := New(b, zaptest.NewLogger(t), errs.NewReporter(zaptest.NewLogger(t), b))

	o.Execute(context.Background(), "t7", "working", func(ctx context.Context) (any, error) {
		panic("boom")
	})

	drainUntil(t, b, func(p any) bool { _, ok := p.(bus.LoadingStopped); return ok }, time.Second)
	require.NotPanics(t, func() {})
}
