// Package audit relays security events to sinks without blocking callers.
//
// # Components
//
//   - [Sink]: event consumer. Channel, JSON line, zerolog and no-op sinks are
//     provided.
//   - [Dispatcher]: async relay with a critical lane delivered first and
//     never shed, and a routine lane that drops or blocks when full. Drops
//     are counted per event type.
//   - [Event]: timestamp, type, identity, organization, session, route, IP
//     and free-form metadata.
//
// # What this package must NOT do
//
//   - Decide which events to emit or which are critical. The engine does.
//   - Import trustplane or any sibling internal package.
package audit
