package domain

import "errors"

var (
	// ErrNotFound is returned by stores when no record matches the lookup.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write hits a uniqueness constraint. It is
	// the authoritative signal of a race loss; callers decide whether to retry
	// with different values or propagate.
	ErrConflict = errors.New("storage conflict: unique constraint violated")

	// ErrLinkReassigned is returned when an upsert would move an existing
	// federated identity link to a different local account. Links are never
	// re-parented once created.
	ErrLinkReassigned = errors.New("federated identity link already bound to a different account")
)
