package identity

import "errors"

var (
	// ErrDerivationFailure is returned by a single tier. The engine recovers from it
	// by falling through, it never reaches Manager callers.
	ErrDerivationFailure = errors.New("identity: derivation failed")

	// ErrStorageUnavailable means the client store rejected a read or write.
	// The token stays usable in memory for the life of the process.
	ErrStorageUnavailable = errors.New("identity: storage unavailable")

	// ErrValidationFailure marks a stored token that does not match the token format.
	ErrValidationFailure = errors.New("identity: stored token failed validation")

	// ErrPurgeInconsistency means the server purge did not complete, local data was kept.
	ErrPurgeInconsistency = errors.New("identity: server purge failed, local identity kept")

	// ErrNoPurger is wrapped with ErrPurgeInconsistency when DeleteData runs on
	// a manager that has no way to reach the server.
	ErrNoPurger = errors.New("identity: no purger configured")
)
