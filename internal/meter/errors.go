package meter

import "errors"

// Sentinel errors for the metering client. They are always returned wrapped
// together with a backfill sentinel.
var (
	// ErrUnexpectedStatus indicates a response status outside the API contract.
	ErrUnexpectedStatus = errors.New("meter: unexpected status")

	// ErrInvalidResponse indicates a body that could not be decoded.
	ErrInvalidResponse = errors.New("meter: invalid response")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("meter: rate limited")
)
