package repo

import "errors"

var (
	ErrEmptyUpdate        = errors.New("update has no children")
	ErrUnknownWrite       = errors.New("write is not pending")
	ErrNilRegistration    = errors.New("registration is required")
	ErrUnknownServerValue = errors.New("unknown server value")

	// ErrDataStale is the committer's answer when the server data changed
	// under a transaction; the transaction reruns.
	ErrDataStale      = errors.New("transaction data is stale")
	ErrTransactionSet = errors.New("transaction superseded by a write")
	ErrMaxRetries     = errors.New("transaction exceeded its retries")
)
