package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when no account row exists for the user.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrZeroDelta rejects no-op balance mutations.
	ErrZeroDelta = errors.New("ledger: delta must be non-zero")

	// ErrInsufficientBalance guards the non-negative account invariant for
	// debits. Overdraft policy proper belongs to callers; this is the final
	// backstop before a write.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrLedgerConflict is surfaced after the bounded optimistic retry is
	// exhausted by concurrent writers on the same account.
	ErrLedgerConflict = errors.New("ledger: concurrent write conflict")

	// ErrEmptyReference rejects reference-keyed applies without a reference.
	ErrEmptyReference = errors.New("ledger: reference is required")

	// errVersionConflict signals a single lost CAS round; the engine retries
	// these internally and never lets them escape.
	errVersionConflict = errors.New("ledger: version conflict")

	// errReferenceExists signals the transaction reference already landed in
	// an earlier apply; the engine resolves it to the stored row instead of
	// moving the balance twice.
	errReferenceExists = errors.New("ledger: reference already applied")
)
