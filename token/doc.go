// Package token issues, validates, rotates and revokes access/refresh token
// pairs.
//
// # Signing
//
// Tokens are JWTs signed through the [Signer] capability. [JWTSigner]
// supports HS256 and Ed25519 with optional key ids. There is no unsigned
// encoding: every token presented to [Manager.Validate] must verify.
//
// # Refresh rotation
//
// A refresh token is single use. Its SHA-256 hash keys a Redis record that a
// Lua script flips from active to consumed exactly once, so two concurrent
// rotations of the same token cannot both succeed. Failed rotations are
// counted per hash; after three failures the hash is refused for a cooldown
// period (see internal/limiters).
//
// # Failure policy
//
// Store errors and cancellation fail closed: the token is treated as not
// valid and rotation is denied.
package token
