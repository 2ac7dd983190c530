package tokens

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation has no user to act for.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidTokenType is returned for token types outside the known set.
	ErrInvalidTokenType = errors.New("invalid token type")

	// ErrInvalidRequest is returned when a UseRequest is missing required fields.
	ErrInvalidRequest = errors.New("invalid reset request")

	// ErrStoreUnavailable is the parent of every storage fault.
	ErrStoreUnavailable = errors.New("token store unavailable")

	// ErrStoreRead indicates a failed read against the store.
	ErrStoreRead = fmt.Errorf("%w: read failed", ErrStoreUnavailable)

	// ErrStoreWrite indicates a failed or abandoned write. Nothing was persisted.
	ErrStoreWrite = fmt.Errorf("%w: write failed", ErrStoreUnavailable)

	// ErrConflict is returned by stores when a transaction lost a race and
	// may be retried.
	ErrConflict = errors.New("concurrent modification")

	// ErrAllocationNotFound is returned by UpdateIfQuotaAllows when the
	// targeted allocation does not exist.
	ErrAllocationNotFound = errors.New("allocation not found")
)

func readFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreRead, op, err)
}

func writeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreWrite, op, err)
}

// IsStoreFailure reports whether err is an infrastructure fault rather than
// an expected outcome.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
