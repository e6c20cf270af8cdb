// Package cauth is a pluggable authentication engine. The caller supplies a
// storage contract and, optionally, a routing contract; cauth supplies the
// session lifecycle on top of them: registration, password and OTP login,
// rotating refresh tokens, password change, and a role guard.
//
// Build an engine once and share it:
//
//	engine, err := cauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		Build()
//
// Every operation returns a [Result]. Expected outcomes such as a wrong
// password arrive as a failed Result carrying an [*Error]; only storage or
// network failures come back as the error return.
//
// # Boundaries
//
// The root package holds the public surface. Flow orchestration, rate
// limiting and audit dispatch live under internal/. The engine keeps no
// session table in memory: refresh records and OTP challenges live behind
// the storage contract, which is the only serialization point.
package cauth
