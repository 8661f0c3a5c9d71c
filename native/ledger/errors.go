package ledger

import "errors"

var (
	errNilState = errors.New("ledger: state not configured")

	// ErrNotFound indicates a missing admin profile, user profile or loan.
	ErrNotFound = errors.New("ledger: not found")
	// ErrUnauthorized indicates a non-admin attempting an admin-only action.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrInsufficientBalance indicates no deposit line item can cover a withdrawal.
	ErrInsufficientBalance = errors.New("ledger: insufficient collateral balance for the given token")
	// ErrTokenMismatch indicates the supplied token differs from the loan's token.
	ErrTokenMismatch = errors.New("ledger: token mismatch")
	// ErrArithmetic indicates a checked arithmetic operation failed.
	ErrArithmetic = errors.New("ledger: arithmetic error")
	// ErrAlreadyInitialized indicates the admin slot is already populated.
	ErrAlreadyInitialized = errors.New("ledger: admin already initialized")
	// ErrCapabilityDisabled indicates the profile's capability flag forbids the action.
	ErrCapabilityDisabled = errors.New("ledger: capability disabled for user")
	// ErrInvalidTransition indicates a backward or terminal loan status change.
	ErrInvalidTransition = errors.New("ledger: invalid loan status transition")
	// ErrInvalidAmount indicates a missing amount or one wider than 128 bits.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)
