// Package flows contains the orchestration behind every Engine operation.
//
// Each Run* function accepts validated input and a [Deps] value and returns a
// result struct whose Failure field classifies expected outcomes. Err carries
// infrastructure failures, which the root package returns as Go errors
// instead of failure results.
//
// # Architecture boundaries
//
// Flow functions coordinate the storage contract, token codec, refresh
// registry, OTP manager and rate limiter. They do NOT own any of these
// resources, and they do not emit audit events or metrics; the Engine does
// that from the returned result.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import cauth (to avoid import cycles).
//   - Validate request shape; inputs arrive already validated.
package flows
