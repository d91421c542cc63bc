package domain

import "errors"

// Sentinel errors shared by the services and the transport adapters. The REST
// adapter maps HTTP responses onto these; the services decide what escalates
// (only ErrUnauthorized tears the session down) and what becomes a Notice.
var (
	// ErrInvalidCredentials is returned by login with a wrong email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized marks an expired or revoked session (HTTP 401 on an
	// authenticated call). It is the only error that forces a global logout.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation marks input rejected before any network call was made.
	ErrValidation = errors.New("validation failed")

	// ErrQueueRejected marks a server-refused queue action, e.g. joining twice
	// or picking up a visitor another provider already claimed.
	ErrQueueRejected = errors.New("queue action rejected")

	// ErrNotFound marks an absent resource. Status polls treat it as "no active
	// examination" / "not queued" rather than as a failure.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps transport failures. The action is considered
	// not-applied and is safe to retry.
	ErrUnavailable = errors.New("service unavailable")

	// ErrUnknownEvent is returned by the event decoder for names outside the
	// known set. Connectors drop such events instead of mis-handling them.
	ErrUnknownEvent = errors.New("unknown event")
)
