package domain

import "errors"

// User errors. Expected outcomes of normal use, surfaced to the caller.
var (
	ErrDuplicateVote     = errors.New("participant already voted on this item")
	ErrItemClosed        = errors.New("item is not open for votes")
	ErrInsufficientFunds = errors.New("insufficient available stake")
	ErrAlreadySettled    = errors.New("item already settled")
	ErrNotDue            = errors.New("item is not due for settlement")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrItemExists        = errors.New("item already exists")
)

// ErrInvariant marks a broken internal invariant. It is never a user error and
// always aborts the operation that hit it.
var ErrInvariant = errors.New("invariant violation")
