package model

import "errors"

// Sentinel errors for the event lifecycle and device model. Each maps to
// one of the error "kinds" of the design notes: ErrUnknownState and
// ErrIllegalTransition are protocol-facing state errors; ErrEventExists
// is a state-invariant error recoverable by the caller via GetOrCreate.
var (
	ErrUnknownState      = errors.New("unknown event state")
	ErrIllegalTransition = errors.New("illegal event state transition")
	ErrEventExists       = errors.New("event already exists")
	ErrEventNotFound     = errors.New("event not found")
	ErrImmutableField    = errors.New("identity field is immutable on a committed event")
)
