package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTxConflict is returned when a serializable transaction fails to
	// commit due to a conflict with a concurrent transaction. Callers may
	// retry the whole operation.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrContactInvalid is returned by the entry surface when a request
	// carries neither an email nor a phone number.
	ErrContactInvalid = errors.New("contact requires an email or a phone number")
)
