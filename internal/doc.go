// Package internal holds helpers private to cauth: numeric code generation
// and keyed token digests.
//
// Sub-packages:
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - authtest: engine fixtures shared by adapter tests
//   - flows: the engine operations as plain functions over Deps structs
//   - rate: Redis fixed-window counters for login and OTP throttling
package internal
