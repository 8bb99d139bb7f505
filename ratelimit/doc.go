// Package ratelimit implements request admission against a Redis-backed
// sliding-window log.
//
// # Window semantics
//
// Every (route, key) pair owns one sorted set whose members are admitted
// requests scored by their arrival time in milliseconds. A single Lua script
// trims members older than the window, counts what is left and, when the
// request is admitted, appends it and refreshes the key expiry. Key prefix:
//   - rl: sliding log per route pattern and client key
//
// A request is admitted when the current count is below either the burst
// allowance or the steady rate. Burst is an alternative threshold, not an
// additive budget.
//
// # Failure policy
//
// Store errors, timeouts and caller cancellation all fail open: the request
// is admitted with Remaining set to the policy's steady rate and the
// decision is marked Degraded. Degraded decisions are logged and reported
// to the observer hook.
//
// # Ordering
//
// Concurrent requests for one key race on the same sorted set. The count
// converges, but which request wins at the boundary is not defined.
package ratelimit
