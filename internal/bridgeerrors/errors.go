// Package bridgeerrors implements the error taxonomy from spec §7:
// ConfigInvalid, AuthFailed, NetworkTransient, MalformedFrame,
// InvalidCommand, BrokerLost, and Fatal. Each kind is a concrete type
// rather than a sentinel so callers can carry context (account,
// MAC, topic) through to logging and the health snapshot.
package bridgeerrors

import "fmt"

// Severity classifies how an error should surface on the health
// endpoint and bridge status topic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// base carries the fields common to every taxonomy member.
type base struct {
	Op       string
	Err      error
	Severity Severity
}

func (e *base) Unwrap() error { return e.Err }

// ConfigInvalid is a structural/semantic configuration failure, fatal
// on startup.
type ConfigInvalid struct {
	base
	Field string
}

func NewConfigInvalid(op string, field string, err error) *ConfigInvalid {
	return &ConfigInvalid{base: base{Op: op, Err: err, Severity: SeverityCritical}, Field: field}
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("[%s] config invalid: field %q: %s: %v", e.Severity, e.Field, e.Op, e.Err)
}

// AuthFailed means a token-pipeline stage was rejected (HTTP 401/403
// or MQTT CONNACK rc=5). Triggers a Tier-2 reconnect.
type AuthFailed struct {
	base
	Account string
	Stage   string
}

func NewAuthFailed(op, account, stage string, err error) *AuthFailed {
	return &AuthFailed{base: base{Op: op, Err: err, Severity: SeverityError}, Account: account, Stage: stage}
}

func (e *AuthFailed) Error() string {
	return fmt.Sprintf("[%s] auth failed: account=%s stage=%s: %s: %v", e.Severity, e.Account, e.Stage, e.Op, e.Err)
}

// NetworkTransient covers timeouts, connection refused, DNS failure.
// Triggers backoff.
type NetworkTransient struct {
	base
	Target string
}

func NewNetworkTransient(op, target string, err error) *NetworkTransient {
	return &NetworkTransient{base: base{Op: op, Err: err, Severity: SeverityWarning}, Target: target}
}

func (e *NetworkTransient) Error() string {
	return fmt.Sprintf("[%s] network transient: target=%s: %s: %v", e.Severity, e.Target, e.Op, e.Err)
}

// MalformedFrame covers MQTT framing errors and register frames too
// short/invalid. The frame is dropped and this is logged at warn.
type MalformedFrame struct {
	base
	Detail string
}

func NewMalformedFrame(op, detail string, err error) *MalformedFrame {
	return &MalformedFrame{base: base{Op: op, Err: err, Severity: SeverityWarning}, Detail: detail}
}

func (e *MalformedFrame) Error() string {
	return fmt.Sprintf("[%s] malformed frame: %s: %s: %v", e.Severity, e.Detail, e.Op, e.Err)
}

// InvalidCommand is a malformed or out-of-range local command. Logged
// at warn; no publish performed; no acknowledgement to the sender.
type InvalidCommand struct {
	base
	Action string
}

func NewInvalidCommand(op, action string, err error) *InvalidCommand {
	return &InvalidCommand{base: base{Op: op, Err: err, Severity: SeverityWarning}, Action: action}
}

func (e *InvalidCommand) Error() string {
	return fmt.Sprintf("[%s] invalid command: action=%s: %s: %v", e.Severity, e.Action, e.Op, e.Err)
}

// BrokerLost is disconnection from the local broker. Triggers broker
// reconnection with backoff; never terminates the bridge.
type BrokerLost struct {
	base
}

func NewBrokerLost(op string, err error) *BrokerLost {
	return &BrokerLost{base: base{Op: op, Err: err, Severity: SeverityError}}
}

func (e *BrokerLost) Error() string {
	return fmt.Sprintf("[%s] broker lost: %s: %v", e.Severity, e.Op, e.Err)
}

// Fatal covers a corrupted PID file preventing startup or an
// unwritable cache directory when caching is requested. Terminates
// with a non-zero exit.
type Fatal struct {
	base
}

func NewFatal(op string, err error) *Fatal {
	return &Fatal{base: base{Op: op, Err: err, Severity: SeverityCritical}}
}

func (e *Fatal) Error() string {
	return fmt.Sprintf("[%s] fatal: %s: %v", e.Severity, e.Op, e.Err)
}

// IsRecoverable reports whether err should merely be logged, rather
// than terminating the daemon or the current account's client.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch err.(type) {
	case *ConfigInvalid, *Fatal:
		return false
	default:
		return true
	}
}

// SeverityOf extracts the taxonomy severity, defaulting to Error for
// untyped errors.
func SeverityOf(err error) Severity {
	switch e := err.(type) {
	case *ConfigInvalid:
		return e.Severity
	case *AuthFailed:
		return e.Severity
	case *NetworkTransient:
		return e.Severity
	case *MalformedFrame:
		return e.Severity
	case *InvalidCommand:
		return e.Severity
	case *BrokerLost:
		return e.Severity
	case *Fatal:
		return e.Severity
	default:
		return SeverityError
	}
}
