package shared

import "errors"

var (
	// ErrNotFound indicates a referenced user, role or permission does not exist.
	// Callers must never treat it as "no permissions".
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request was rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the operation would break a protected invariant.
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable indicates the backing store could not be reached.
	// Authorization checks fail closed when this surfaces.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
