package domain

import "errors"

// The closed error taxonomy. NotFound and Conflict are recoverable and
// surfaced verbatim to callers; ErrStore is an operational failure that
// boundary components retry a bounded number of times before giving up.
var (
	ErrNotFound   = errors.New("taskq: job not found")
	ErrConflict   = errors.New("taskq: conflicting state transition")
	ErrValidation = errors.New("taskq: invalid submit parameters")
	ErrStore      = errors.New("taskq: store unavailable")
)
