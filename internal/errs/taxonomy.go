// Package errs defines quetty's error taxonomy (spec §7) and the Error
// Reporter that turns a tagged error into a severity-classified event on
// the UI bus (spec §4.8).
package errs

import "errors"

// Kind groups an error into one of the taxonomy's top-level categories.
type Kind string

const (
	KindIO        Kind = "io"
	KindBroker    Kind = "broker"
	KindAuth      Kind = "auth"
	KindComponent Kind = "component"
	KindState     Kind = "state"
	KindConfig    Kind = "config"
)

// Broker-kind sentinels.
var (
	ErrNotFound   = errors.New("broker: not found")
	ErrUnauthorized = errors.New("broker: unauthorized")
	ErrThrottled  = errors.New("broker: throttled")
	ErrLockLost   = errors.New("broker: lock lost")
	ErrTimeout    = errors.New("broker: timeout")
	ErrTransient  = errors.New("broker: transient")
	ErrCancelled  = errors.New("broker: cancelled")
)

// Auth-kind sentinels.
var (
	ErrAuthExpired           = errors.New("auth: expired")
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrDeviceCodeExpired     = errors.New("auth: device code expired")
	ErrDeviceCodeDenied      = errors.New("auth: device code denied")
	ErrTokenEndpointRateLimited = errors.New("auth: token endpoint rate limited")
)

// State-kind sentinels.
var (
	ErrNoActiveQueue = errors.New("state: no active queue")
	ErrWrongState    = errors.New("state: operation invalid in current state")
)

// Config-kind sentinels.
var (
	ErrInvalidProfileName = errors.New("config: invalid profile name")
	ErrInvalidPassword    = errors.New("config: invalid password")
	ErrPolicyViolation    = errors.New("config: policy violation")
)

// Severity is how aggressively the Error Reporter should surface an
// error to the user.
type Severity int

const (
	// SeverityInfo is logged only, no popup.
	SeverityInfo Severity = iota
	// SeverityWarning pops up but lets the operation continue.
	SeverityWarning
	// SeverityError pops up and the operation is considered aborted.
	SeverityError
	// SeverityCritical pops up with an enhanced log and may end the process.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Context is the structured record attached to every reported error.
type Context struct {
	Component   string
	Operation   string
	Kind        Kind
	Err         error
	Remediation string

	severity severityOverride
	subject  string
}

// Error implements the error interface so Context can be returned
// directly from fallible operations and later unwrapped by callers
// using errors.Is/errors.As against the taxonomy sentinels.
func (c *Context) Error() string {
	if c.Err == nil {
		return c.Component + "." + c.Operation
	}
	return c.Component + "." + c.Operation + ": " + c.Err.Error()
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (c *Context) Unwrap() error {
	return c.Err
}

// New builds a Context for the given component/operation pair, wrapping
// err and tagging it with kind.
func New(component, operation string, kind Kind, err error) *Context {
	return &Context{Component: component, Operation: operation, Kind: kind, Err: err}
}

// WithRemediation attaches a user-facing remediation hint.
func (c *Context) WithRemediation(hint string) *Context {
	c.Remediation = hint
	return c
}
