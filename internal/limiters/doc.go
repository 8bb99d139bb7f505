// Package limiters holds the refresh-attempt throttle used by token rotation.
//
// A refresh token hash that accumulates MaxAttempts failed rotations is
// refused until Cooldown has passed since its most recent failure. The
// counter is then cleared and counting restarts.
//
// [RefreshAttempts] keeps state in Redis so every replica sees the same
// counters. [MemoryRefreshAttempts] keeps it in process and backs
// single-node deployments and tests.
//
// # What this package must NOT do
//
//   - Decide what a failure is. Callers report failures.
//   - Fail open. Store errors surface as [ErrRefreshAttemptsUnavailable].
package limiters
