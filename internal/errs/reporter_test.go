package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dawidpereira/quetty/internal/bus"
)

func TestReportWarningPublishesPopup(t *testing.T) {
	b := bus.New(4)
	r := NewReporter(zaptest.NewLogger(t), b)

	r.Report(New("queue_session", "delete", KindBroker, ErrLockLost))

	select {
	case ev := <-b.Events():
		p, ok := ev.Payload.(bus.Popup)
		require.True(t, ok)
		assert.Equal(t, bus.PopupWarning, p.Severity)
	default:
		t.Fatal("expected a popup event")
	}
}

func TestReportInfoDoesNotPublish(t *testing.T) {
	b := bus.New(4)
	r := NewReporter(zaptest.NewLogger(t), b)

	r.Report(New("queue_session", "peek_page", KindBroker, ErrCancelled))

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected event published: %+v", ev)
	default:
	}
}

func TestUserMessageTemplateWithSubject(t *testing.T) {
	c := New("queue_session", "connect", KindBroker, ErrTimeout).WithSubject("orders")
	assert.Equal(t, `Could not connect to queue "orders".`, c.UserMessage())
}

func TestUserMessageFallsBackToErrText(t *testing.T) {
	c := New("unregistered", "op", KindIO, ErrTimeout)
	assert.Equal(t, ErrTimeout.Error(), c.UserMessage())
}

func TestSeverityOverride(t *testing.T) {
	c := New("config", "load", KindConfig, ErrInvalidProfileName).WithSeverity(SeverityInfo)
	assert.Equal(t, SeverityInfo, c.severity.severity)
}

func TestContextUnwrap(t *testing.T) {
	c := New("x", "y", KindBroker, ErrNotFound)
	assert.ErrorIs(t, c, ErrNotFound)
}

func TestReportClassifiesWrappedSentinelAsWarning(t *testing.T) {
	b := bus.New(4)
	r := NewReporter(zaptest.NewLogger(t), b)

	// Mirrors the orchestrator wrapping a task's returned error a second
	// time (errs.New("orchestrator", id, KindComponent, err)); the
	// original ErrLockLost must still classify as Warning through the
	// wrapped chain.
	wrapped := New("orchestrator", "bulk_delete", KindComponent, New("queue_session", "delete", KindBroker, ErrLockLost))
	r.Report(wrapped)

	select {
	case ev := <-b.Events():
		p, ok := ev.Payload.(bus.Popup)
		require.True(t, ok)
		assert.Equal(t, bus.PopupWarning, p.Severity)
	default:
		t.Fatal("expected a popup event")
	}
}
