// Package meter is the HTTP client for the remote metering API.
//
// It implements backfill.RemoteAPI on top of three endpoints per resource:
//
//	GET {base}/resources/{id}/first     earliest reading timestamp
//	GET {base}/resources/{id}/last      exclusive end of available data
//	GET {base}/resources/{id}/readings  aggregated readings for [from, to)
//
// Requests carry a bearer token. The token is obtained by the host and can be
// replaced at runtime with SetToken; this package never performs a login flow.
//
// # Error Handling
//
// Failures are wrapped with the backfill sentinels so the scheduler can pick
// a retry policy:
//   - 401 and 403 wrap backfill.ErrAuthenticationFailed
//   - transport errors, 429, 5xx, other unexpected statuses and undecodable
//     bodies wrap backfill.ErrCommunication
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package meter
