package repository

import "errors"

var (
	// ErrUserNotFound is returned when no user record exists for an ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrWalletNotFound is returned when no wallet exists for a user.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrLockNotAcquired is returned when a per-user lock could not be
	// obtained before the context deadline.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
