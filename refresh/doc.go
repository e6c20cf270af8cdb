// Package refresh keeps the server-side record of outstanding refresh tokens.
//
// Raw tokens are never stored. Each account carries a bounded set of
// [Record] values holding the hex HMAC-SHA256 of a token (keyed by the
// refresh secret) and its expiry. Lookups compare the candidate digest
// against every stored record in constant time, without stopping at the
// first match.
//
// Every mutation is a whole-set replacement submitted with the version that
// was read ([Swap]). A store rejects a stale version with [ErrConflict], so
// two rotations racing on the same token cannot both succeed.
package refresh
