// Package middleware adapts the trust plane engine to net/http.
//
// # Middleware
//
//   - [Admission] runs launch gates and the rate limiter before the handler
//     and writes the 429 and 503 contracts.
//   - [RequireSession] authenticates the access token from the cookie or
//     the Authorization header and stores the result in the context.
//   - [SecurityHeaders] sets the static browser hardening headers.
//
// Token cookies are written with [SetTokenCookies] and cleared with
// [ClearTokenCookies]. Every authentication failure clears them so clients
// do not retry with a token the server already rejected.
//
// This package does not parse tokens or talk to Redis; all decisions are
// delegated to the engine.
package middleware
