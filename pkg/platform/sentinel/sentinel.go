package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (wrapped) so the
// sync pipeline can decide between "count the record as failed" and "abort the run".
//
//   - ErrNotFound: no row for the requested key
//   - ErrConflict: the store refused a mutation (lock timeout, serialization
//     failure, constraint violation); retrying the record later may succeed
//   - ErrUnavailable: the store cannot be reached; nothing else will succeed either
//   - ErrInvalidState: the row is in the wrong state for the operation
//   - ErrAlreadyUsed: a lock or unique resource is held by someone else
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
	ErrAlreadyUsed  = errors.New("already used")
)

// IsFatal reports whether err means the backing store is gone for the rest of a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
