package errors

import "errors"

// Transport errors. Both halt a queue drain; they differ only in how
// they are logged.
var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrServerRejected     = errors.New("server rejected request")
	ErrEntryNotFound      = errors.New("entry not found on server")
)

// Local errors.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrInvalidEntry   = errors.New("invalid diary entry")
	ErrEntryMissing   = errors.New("entry not found locally")
)
