package auctionerrors

import "errors"

// Repository-level errors
var (
	ErrNotFound        = errors.New("not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrVersionConflict = errors.New("auction was modified concurrently")
)

// Lifecycle errors
var (
	// ErrAlreadyClosing is returned when a conditional close loses the race to
	// another closer. Callers treat it as success.
	ErrAlreadyClosing = errors.New("auction already being closed")
)

// business logic errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrClosed            = errors.New("auction is closed")
	ErrInvalidAmount     = errors.New("invalid bid amount")
	ErrStartingBidLocked = errors.New("starting bid cannot change once bids exist")
)
