// Package synerr defines the domain error taxonomy carried over the wire
// as `error` messages and used internally to decide whether a session
// may reconnect.
package synerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the fixed error kinds in the domain's error taxonomy.
type Kind string

const (
	// Handshake-terminal: forbid reconnection with the same credentials.
	WrongProtocol    Kind = "wrong-protocol"
	WrongCredentials Kind = "wrong-credentials"
	WrongSubprotocol Kind = "wrong-subprotocol"
	MissedAuth       Kind = "missed-auth"

	// Protocol-violation, session-terminal.
	WrongFormat    Kind = "wrong-format"
	UnknownMessage Kind = "unknown-message"
	Bruteforce     Kind = "bruteforce"

	// Session-terminal, transient: reconnection is allowed.
	Timeout Kind = "timeout"
)

// terminal is the set of kinds that forbid automatic reconnection.
var terminal = map[Kind]bool{
	WrongProtocol:    true,
	WrongCredentials: true,
	WrongSubprotocol: true,
	MissedAuth:       true,
}

// IsTerminal reports whether k forbids automatic reconnection.
func (k Kind) IsTerminal() bool { return terminal[k] }

// SyncError is the error type carried in `error` wire messages and
// raised locally for the same conditions.
type SyncError struct {
	Kind   Kind
	Detail string
	cause  error
}

// New builds a SyncError with no detail.
func New(kind Kind) *SyncError { return &SyncError{Kind: kind} }

// Newf builds a SyncError with a formatted detail.
func Newf(kind Kind, format string, args ...any) *SyncError {
	return &SyncError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an underlying cause, preserving it for
// errors.Unwrap/errors.Is/errors.As. SyncError has no Cause method, so
// errors.Cause returns the SyncError itself.
func Wrap(kind Kind, cause error) *SyncError {
	return &SyncError{Kind: kind, Detail: cause.Error(), cause: errors.WithStack(cause)}
}

func (e *SyncError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *SyncError) Unwrap() error { return e.cause }

// IsTerminal reports whether this error forbids automatic reconnection.
func (e *SyncError) IsTerminal() bool { return e.Kind.IsTerminal() }

// As is a convenience wrapper over errors.As for the common case of
// asking "is this (or does this wrap) a SyncError of a given kind".
func As(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
