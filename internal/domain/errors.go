package domain

import "errors"

// Sentinel errors for the engine's failure taxonomy. Callers classify
// with errors.Is; wrapped messages carry the detail.
var (
	// ErrInvalidInput marks a malformed RawEvent rejected at the
	// pipeline entrance. Not retried.
	ErrInvalidInput = errors.New("invalid input event")

	// ErrSourceUnavailable marks an upstream fetch failure. Wrapped by
	// the source retry policy; after exhaustion the tick is skipped.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrLedgerWriteFailed marks a failed ledger append. Fatal for the
	// signal's emit; the caller may resubmit the same event safely.
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	// ErrHotPathFailed marks exhausted publish retries or an open
	// circuit. Non-fatal; reconciliation recovers the signal.
	ErrHotPathFailed = errors.New("hot path delivery failed")

	// ErrPublishRejected marks a consumer 4xx other than 409. The
	// signal stays in the ledger but is not redelivered.
	ErrPublishRejected = errors.New("publish rejected by consumer")

	// ErrCircuitOpen is returned by a breaker that is failing fast.
	ErrCircuitOpen = errors.New("circuit open")
)
