package payments

import "errors"

var (
	// ErrAccountNotFound means neither the provider customer id nor the
	// payer email resolved to a local account. Money may be in flight, so
	// callers must treat this as a hard, loggable failure.
	ErrAccountNotFound = errors.New("payments: account not found")

	// ErrInvalidPayload marks a webhook body the handlers cannot interpret.
	ErrInvalidPayload = errors.New("payments: invalid payload")

	// ErrProviderFetch wraps transient provider API failures; events failing
	// on it stay eligible for the retry sweep.
	ErrProviderFetch = errors.New("payments: provider fetch failed")
)
