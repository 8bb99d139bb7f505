// Package session provides the Redis-backed session registry.
//
// # Records
//
// Each session is a Redis hash keyed by session id, indexed per identity by
// issue time and globally by expiry. Records are never deleted: terminating
// a session flips its active flag to false and stamps the end time and
// reason, so historical sessions remain available to the anomaly detector.
//
// # Monotonicity
//
// The active flag only moves from true to false. Every state transition runs
// inside a Lua script that checks the current flag first, which makes
// [Registry.Terminate], [Registry.TerminateAllExcept], and
// [Registry.SweepExpired] idempotent under concurrent callers.
//
// # What this package must NOT do
//
//   - Interpret tokens. Refresh token hashes are stored opaquely.
//   - Fail open. Store errors surface as [ErrRedisUnavailable].
package session
