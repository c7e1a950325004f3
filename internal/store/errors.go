package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrTenantMismatch reports a write whose tenant_id does not match the
	// target row. The pg Store does not return it: its tenant-scoped
	// statements filter on tenant_id, so a mismatched write matches no row.
	ErrTenantMismatch = errors.New("store: tenant mismatch")

	// ErrDuplicateProviderMessageID signals that a Message with this
	// provider_message_id already exists; callers treat this as a no-op,
	// not a failure (idempotent redelivery, spec.md §8).
	ErrDuplicateProviderMessageID = errors.New("store: duplicate provider message id")

	// ErrActionAlreadyResolved signals a no-op action-feedback replay.
	ErrActionAlreadyResolved = errors.New("store: action already resolved")

	// ErrRequestDataTooLarge signals request_data exceeding MaxRequestDataBytes.
	ErrRequestDataTooLarge = errors.New("store: request_data exceeds 10 KiB")
)

// Transient reports whether err represents a transient store failure that
// is safe to retry once inline before bubbling up (spec.md §7).
type Transient interface {
	Transient() bool
}
