// Package cli implements the trustplane command line: the HTTP server and
// operator commands for launch control, session sweeps and anomaly scans.
package cli
