package permissions

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and resolver. Callers match them
// with errors.Is to pick an HTTP status or a fail-closed default.
var (
	// ErrInvalidArgument indicates a malformed or missing input, such as an
	// empty user or tenant ID on a resolution request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates the referenced role, permission or override
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates a rejected mutation, such as deleting a system
	// role or deleting an override through the wrong user.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable indicates the backing store failed. Resolution
	// surfaces it as the cache's error state and all checks fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// invalidArgument wraps ErrInvalidArgument with a reason
func invalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}

// notFound wraps ErrNotFound with the missing entity
func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// storeUnavailable wraps a low-level store failure so callers can match
// ErrStoreUnavailable without losing the underlying cause.
func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
