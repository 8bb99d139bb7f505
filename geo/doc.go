// Package geo resolves client addresses to coarse locations.
//
// Resolution is advisory. Callers record whatever a [Resolver] returns and
// treat a failed lookup as an unknown location rather than an error.
package geo
