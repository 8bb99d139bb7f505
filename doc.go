// Package trustplane is the request admission and session trust plane of a
// multi-tenant service.
//
// An [Engine] combines five components that share one Redis deployment:
//
//   - ratelimit: sliding-window admission per route and client key, failing
//     open when the counter store is slow or down.
//   - launch: canary share and emergency degrade valve, consulted before
//     the rate limiter.
//   - token: signed access tokens and single-use refresh tokens with
//     per-token attempt throttling.
//   - session: durable session records that only ever move from active to
//     inactive.
//   - anomaly: read-only heuristics over recent sessions, run on demand and
//     on a background interval.
//
// Per request the order is fixed: canary gate, degrade gate, rate limiter,
// then token validation and a best-effort session touch on identity routes.
// Anomaly scans never sit on the request path.
//
// # Failure policy
//
// Admission fails open: a counter store error admits the request and is
// reported through logs, metrics and [AdmissionResult.FailOpen]. Token
// validation and rotation fail closed with [ErrStoreUnavailable].
//
// Errors returned by Engine methods classify with [errors.Is] against the
// sentinels in this package; [HTTPStatus] and [ErrorCode] map them to the
// HTTP contract used by the middleware and httpapi packages.
package trustplane
