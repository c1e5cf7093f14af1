// Package bus implements the bounded UI event bus the foreground event
// loop drains (spec §5, §6.5). Background tasks post events; they block
// at the send site when the UI falls behind rather than dropping
// events, because terminal events drive the loading-indicator lifecycle
// and must never be lost.
package bus

import "github.com/dawidpereira/quetty/internal/model"

// Event is the common envelope for everything posted to the bus. Concrete
// payload types below are assigned to Payload.
type Event struct {
	Payload any
}

// Loading signals the start of a background operation's loading
// indicator.
type Loading struct{ Label string }

// LoadingProgress re-labels an in-flight loading indicator.
type LoadingProgress struct{ Label string }

// LoadingStopped signals a background operation's terminal event has
// been observed and its loading indicator should clear.
type LoadingStopped struct{}

// PopupSeverity is the kind of popup the UI shows. The Error Reporter
// maps errs.Severity onto it (Warning to PopupWarning, Error and
// Critical to PopupError); bus does not import errs, keeping it a leaf
// package.
type PopupSeverity int

const (
	PopupError PopupSeverity = iota
	PopupWarning
	PopupSuccess
	PopupConfirm
)

// Popup is a user-visible message of a given severity/kind.
type Popup struct {
	Severity PopupSeverity
	Message  string
}

// MessagesPageLoaded reports a newly materialized browser page.
type MessagesPageLoaded struct {
	PageIndex int
	Items     []model.Message
	Terminal  bool
}

// MessagesInvalidated reports that the given (id, sequence) pairs were
// removed from the browser's cache after a successful mutation.
type MessagesInvalidated struct {
	Removed []model.Identity
}

// BulkPhase names the stage of a BulkOperation a BulkProgress event
// describes.
type BulkPhase string

const (
	BulkPhaseFindThenSettle BulkPhase = "find_then_settle"
	BulkPhaseSend           BulkPhase = "send"
)

// BulkProgress is delivered in monotonically non-decreasing
// Processed order for a single BulkOperation (spec §5).
type BulkProgress struct {
	Processed int
	Total     int
	Phase     BulkPhase
}

// AuthDeviceCodePending is emitted once the device-code grant has been
// obtained and the user must complete the flow out of band.
type AuthDeviceCodePending struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       int
}

// AuthSucceeded is emitted once a token has been acquired or refreshed.
type AuthSucceeded struct{}

// AuthFailed is emitted on a terminal authentication failure.
type AuthFailed struct{ Reason string }

// Bus is a bounded, multi-producer single-consumer channel of Events.
// The foreground loop is the sole consumer.
type Bus struct {
	ch chan Event
}

// New constructs a Bus with the given channel capacity. Producers block
// on Publish once the channel is full (backpressure, spec §5).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish enqueues an event, blocking if the bus is full.
func (b *Bus) Publish(payload any) {
	b.ch <- Event{Payload: payload}
}

// Events exposes the receive-only channel for the foreground loop to
// range/select over.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the underlying channel. Only the owner of the bus
// (the process wiring code) should call this, after all producers have
// stopped.
func (b *Bus) Close() {
	close(b.ch)
}
