// Package httpapi mounts the trust plane HTTP surface on a chi router.
//
// Routes under /api pass through admission control first. Session routes
// additionally require a valid access token. /admin routes are only mounted
// when an admin token is configured and compare it in constant time.
package httpapi
