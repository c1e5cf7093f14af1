package errs

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/bus"
)

// severityOverride records a severity pinned by WithSeverity, which
// replaces the taxonomy-based default that defaultSeverity computes.
type severityOverride struct {
	set      bool
	severity Severity
}

// WithSeverity pins the severity the Reporter will use for this
// context, overriding the taxonomy-based default.
func (c *Context) WithSeverity(s Severity) *Context {
	c.severity = severityOverride{set: true, severity: s}
	return c
}

// messageTemplates maps (component, operation) to a user-facing message
// template, so the phrasing users see is uniform across the app rather
// than ad hoc at each call site.
var messageTemplates = map[[2]string]string{
	{"queue_session", "connect"}:        "Could not connect to queue %q.",
	{"queue_session", "switch_queue"}:   "Could not switch to queue %q.",
	{"queue_session", "peek_page"}:      "Could not load messages for queue %q.",
	{"queue_session", "delete"}:         "Could not delete the selected message.",
	{"queue_session", "dead_letter"}:    "Could not dead-letter the selected message.",
	{"queue_session", "resend"}:         "Could not resend the selected message.",
	{"bulk_engine", "run"}:              "Bulk operation did not complete successfully.",
	{"bulk_engine", "validate"}:         "This bulk operation violates configured safety limits.",
	{"identity_provider", "device_code"}: "Device code sign-in failed.",
	{"identity_provider", "refresh"}:    "Could not refresh your session; please sign in again.",
	{"credential_store", "unlock"}:      "Master password was not accepted.",
	{"config", "load"}:                  "Configuration could not be loaded; using previous settings.",
	{"config", "profile"}:               "That profile name is not allowed.",
}

// UserMessage resolves the (component, operation) template for c,
// falling back to the wrapped error's text when no template is
// registered.
func (c *Context) UserMessage() string {
	if tmpl, ok := messageTemplates[[2]string{c.Component, c.Operation}]; ok {
		if wantsArg(tmpl) {
			return fmt.Sprintf(tmpl, c.subject)
		}
		return tmpl
	}
	if c.Err != nil {
		return c.Err.Error()
	}
	return c.Component + ": " + c.Operation + " failed"
}

func wantsArg(tmpl string) bool {
	return strings.Contains(tmpl, "%q") || strings.Contains(tmpl, "%s") || strings.Contains(tmpl, "%v")
}

// WithSubject records the %q-formatted argument UserMessage's template
// interpolates (e.g. a queue name).
func (c *Context) WithSubject(subject string) *Context {
	c.subject = subject
	return c
}

// Reporter is the sole path from a fallible result to a user-visible
// popup (spec §4.8). It logs every error and, depending on severity,
// also publishes a Popup event to the bus.
type Reporter struct {
	logger *zap.Logger
	bus    *bus.Bus
}

// NewReporter constructs a Reporter bound to logger and the given bus.
func NewReporter(logger *zap.Logger, b *bus.Bus) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger, bus: b}
}

// defaultSeverity classifies an error when no WithSeverity override is
// set: lock loss, throttling and transient broker errors are Warning;
// cancellation is Info; component errors are Critical; everything else,
// configuration errors included, is Error.
func defaultSeverity(k Kind, err error) Severity {
	switch {
	case errors.Is(err, ErrLockLost) || errors.Is(err, ErrThrottled) || errors.Is(err, ErrTransient):
		return SeverityWarning
	case errors.Is(err, ErrCancelled):
		return SeverityInfo
	case k == KindConfig:
		return SeverityError
	case k == KindComponent:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Report logs c at a level derived from its severity and, for
// Warning/Error/Critical, publishes a Popup event carrying c's
// user-facing message. Secrets never appear in c.Err's text because
// callers are required to construct taxonomy errors without embedding
// raw credential material (see credstore/identity packages).
func (r *Reporter) Report(c *Context) {
	sev := defaultSeverity(c.Kind, c.Err)
	if c.severity.set {
		sev = c.severity.severity
	}

	fields := []zap.Field{
		zap.String("component", c.Component),
		zap.String("operation", c.Operation),
		zap.String("kind", string(c.Kind)),
	}
	if c.Err != nil {
		fields = append(fields, zap.Error(c.Err))
	}

	switch sev {
	case SeverityInfo:
		r.logger.Info("reported error", fields...)
		return
	case SeverityWarning:
		r.logger.Warn("reported error", fields...)
	case SeverityError:
		r.logger.Error("reported error", fields...)
	case SeverityCritical:
		r.logger.Error("critical error", append(fields, zap.String("remediation", c.Remediation))...)
	}

	if r.bus == nil {
		return
	}
	sevOut := bus.PopupError
	if sev == SeverityWarning {
		sevOut = bus.PopupWarning
	}
	r.bus.Publish(bus.Popup{Severity: sevOut, Message: c.UserMessage()})
}
