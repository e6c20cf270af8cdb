// Package rate provides Redis-backed fixed-window counters that throttle
// credential guessing against the login, OTP login and OTP issuance paths.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key kinds,
// each placed under the configured prefix:
//   - al:  login failures per identifier
//   - ali: login failures per IP
//   - ao:  OTP requests per identifier
//
// Failed attempts are counted; CheckLogin rejects once the count reaches the
// budget, so with MaxLoginAttempts=5 the sixth attempt is refused.
//
// # What this package must NOT do
//
//   - Decide what counts as a failure (the flows do).
//   - Be imported outside the cauth module.
package rate
