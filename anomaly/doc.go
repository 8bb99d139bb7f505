// Package anomaly scans session history for signs of account compromise.
//
// Every heuristic is advisory. A [Flag] marks a session as worth a second
// look; nothing in this package blocks requests or terminates sessions.
// Scans only read the session registry and can run concurrently with
// request traffic.
//
// # Heuristics
//
// Geo and device diversity look at sessions created in the last
// [Thresholds.RecentWindow]. Velocity looks at every session in the scan
// window. A session may carry several flags.
package anomaly
