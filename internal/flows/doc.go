// Package flows contains the orchestration behind each Engine operation.
//
// Each Run function takes a typed dependency struct and returns a result
// carrying a failure kind instead of a root error. The Engine maps kinds to
// its public errors, metrics, and audit events, which keeps this package free
// of root imports.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import trustplane.
//   - Talk to Redis directly. All I/O goes through dependency interfaces.
package flows
