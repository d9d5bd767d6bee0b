package errors

import "errors"

var (
	// ErrNotFound covers missing assets, versions, and missing or expired
	// pending transactions.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when an initiator does not match the
	// owner (or stored initiator) of the record being mutated.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidMetadata signals metadata that cannot be canonicalized.
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrContentUnavailable signals that every content gateway failed or
	// the payload was unrecoverable.
	ErrContentUnavailable = errors.New("content unavailable")
	// ErrTransactionNotConfirmed signals a ledger confirmation that came
	// back unsuccessful.
	ErrTransactionNotConfirmed = errors.New("transaction not confirmed")
)
