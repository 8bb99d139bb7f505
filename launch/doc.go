// Package launch holds the process-wide traffic shaping state consulted
// before rate limiting: the canary percentage and the emergency degrade
// valve.
//
// # Concurrency
//
// The current [Mode] is an immutable snapshot behind an atomic pointer.
// Readers never lock; writers serialize on a mutex and publish a new
// snapshot.
//
// # Transitions
//
// Modes change only through [Controller.SetMode], normally from an operator
// using the CLI. There is no automatic promotion or rollback. [RedisSync]
// carries operator changes to every instance.
package launch
