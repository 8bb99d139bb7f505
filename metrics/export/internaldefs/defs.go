package internaldefs

import (
	"github.com/MrEthical07/trustplane"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   trustplane.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   trustplane.MetricID
	Name string
	Help string
}

// AdmissionsName is the labelled admission counter. Its labels are route,
// key_class and decision.
const AdmissionsName = "trustplane_admissions_total"

// AdmissionsHelp describes [AdmissionsName].
const AdmissionsHelp = "Admission decisions by route, key class and decision."

// AuditDroppedName counts audit events lost to dispatcher backpressure.
const AuditDroppedName = "trustplane_audit_dropped_total"

// CounterDefs lists every exported engine counter in output order.
var CounterDefs = []CounterDef{
	{ID: trustplane.MetricAdmissionAllowed, Name: "trustplane_admission_allowed_total", Help: "Requests admitted by the rate limiter."},
	{ID: trustplane.MetricAdmissionRateLimited, Name: "trustplane_admission_rate_limited_total", Help: "Requests denied with 429."},
	{ID: trustplane.MetricAdmissionFailOpen, Name: "trustplane_admission_fail_open_total", Help: "Requests admitted because the counter store was unavailable."},
	{ID: trustplane.MetricAdmissionShed, Name: "trustplane_admission_shed_total", Help: "Requests shed by emergency degrade."},
	{ID: trustplane.MetricAdmissionCanaryExcluded, Name: "trustplane_admission_canary_excluded_total", Help: "Requests outside the canary slice."},
	{ID: trustplane.MetricLoginSuccess, Name: "trustplane_login_success_total", Help: "Sessions opened by login."},
	{ID: trustplane.MetricLoginFailure, Name: "trustplane_login_failure_total", Help: "Failed logins."},
	{ID: trustplane.MetricAuthenticateSuccess, Name: "trustplane_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: trustplane.MetricAuthenticateFailure, Name: "trustplane_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: trustplane.MetricRefreshSuccess, Name: "trustplane_refresh_success_total", Help: "Successful token rotations."},
	{ID: trustplane.MetricRefreshFailure, Name: "trustplane_refresh_failure_total", Help: "Failed token rotations."},
	{ID: trustplane.MetricRefreshReuseDetected, Name: "trustplane_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: trustplane.MetricRefreshRateLimited, Name: "trustplane_refresh_rate_limited_total", Help: "Rotations refused during cooldown."},
	{ID: trustplane.MetricSessionCreated, Name: "trustplane_session_created_total", Help: "Created sessions."},
	{ID: trustplane.MetricSessionTerminated, Name: "trustplane_session_terminated_total", Help: "Sessions moved to inactive."},
	{ID: trustplane.MetricSessionSwept, Name: "trustplane_session_swept_total", Help: "Sessions deactivated by the expiry sweep."},
	{ID: trustplane.MetricLogout, Name: "trustplane_logout_total", Help: "Single-session logouts."},
	{ID: trustplane.MetricLogoutOthers, Name: "trustplane_logout_others_total", Help: "Terminate-other-sessions operations."},
	{ID: trustplane.MetricAnomalyScans, Name: "trustplane_anomaly_scans_total", Help: "On-demand anomaly scans."},
	{ID: trustplane.MetricAnomalySuspicious, Name: "trustplane_anomaly_suspicious_sessions_total", Help: "Sessions flagged by anomaly scans."},
	{ID: trustplane.MetricAnomalyFlags, Name: "trustplane_anomaly_flags_total", Help: "Anomaly flags raised."},
	{ID: trustplane.MetricAnomalyErrors, Name: "trustplane_anomaly_errors_total", Help: "Failed anomaly scans."},
	{ID: trustplane.MetricLaunchModeChanged, Name: "trustplane_launch_mode_changed_total", Help: "Launch mode transitions."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: trustplane.MetricAdmissionLatency, Name: "trustplane_admission_latency_seconds", Help: "Admission latency histogram."},
	{ID: trustplane.MetricValidateLatency, Name: "trustplane_validate_latency_seconds", Help: "Access token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to exactly eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
