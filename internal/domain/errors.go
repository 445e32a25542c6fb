package domain

import "errors"

var (
	// ErrValidation marks caller input errors; handlers map it to 400.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for unknown ids; handlers map it to 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state-transition violations, such as cancelling a
	// job that already started sending; handlers map it to 409.
	ErrConflict = errors.New("conflict")
)
