package backfill

import "errors"

// Sentinel errors for history synchronisation.
//
// Remote and store adapters wrap their failures with these so callers can
// decide on retry policy with errors.Is():
//
//	if errors.Is(err, backfill.ErrAuthenticationFailed) {
//	    // Refresh credentials before the next run
//	}
var (
	// ErrAuthenticationFailed indicates the remote API rejected the session or
	// credentials. Not retryable until the caller re-authenticates.
	ErrAuthenticationFailed = errors.New("backfill: authentication failed")

	// ErrCommunication indicates a transient network or remote API failure.
	ErrCommunication = errors.New("backfill: communication error")

	// ErrConfiguration indicates a granularity outside the period limit table.
	ErrConfiguration = errors.New("backfill: configuration error")

	// ErrInvalidWindow indicates an empty or inverted query window.
	ErrInvalidWindow = errors.New("backfill: invalid time window")

	// ErrUnknownResource indicates a resource ID with no configured channel.
	ErrUnknownResource = errors.New("backfill: unknown resource")
)

// IsRetryable reports whether a failed run may be retried on the caller's
// normal cadence without operator action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCommunication) && !errors.Is(err, ErrAuthenticationFailed)
}
