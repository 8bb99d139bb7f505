package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustplane/session"
)

// Reason names the heuristic that raised a flag.
type Reason string

const (
	ReasonGeoDiversity    Reason = "geo_diversity"
	ReasonDeviceDiversity Reason = "device_diversity"
	ReasonVelocity        Reason = "velocity"
)

// ErrInvalidWindow is returned for non-positive scan windows.
var ErrInvalidWindow = errors.New("anomaly: window must be at least one day")

// recentLoginsShown caps Metrics.RecentLogins.
const recentLoginsShown = 5

// Thresholds tunes the heuristics.
type Thresholds struct {
	// RecentWindow bounds the population for geo and device checks.
	RecentWindow time.Duration `yaml:"recent_window"`
	// GeoMinSessions: the geo check runs when the population exceeds it.
	GeoMinSessions int `yaml:"geo_min_sessions"`
	// GeoShareBelow flags a session whose country is shared by fewer than
	// this fraction of the other recent sessions. An unresolved country
	// counts as one more country.
	GeoShareBelow float64 `yaml:"geo_share_below"`
	// DeviceMinSessions: the device check runs when the population exceeds it.
	DeviceMinSessions int `yaml:"device_min_sessions"`
	// VelocityWindow and VelocityMaxSessions: more than VelocityMaxSessions
	// creations inside VelocityWindow flags all of them.
	VelocityWindow      time.Duration `yaml:"velocity_window"`
	VelocityMaxSessions int           `yaml:"velocity_max_sessions"`
}

// DefaultThresholds returns the stock heuristic tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RecentWindow:        24 * time.Hour,
		GeoMinSessions:      2,
		GeoShareBelow:       0.5,
		DeviceMinSessions:   3,
		VelocityWindow:      5 * time.Minute,
		VelocityMaxSessions: 3,
	}
}

// Validate reports whether t is usable.
func (t Thresholds) Validate() error {
	switch {
	case t.RecentWindow <= 0:
		return errors.New("anomaly: recent window must be > 0")
	case t.GeoMinSessions < 0 || t.DeviceMinSessions < 0 || t.VelocityMaxSessions < 1:
		return errors.New("anomaly: session thresholds out of range")
	case t.GeoShareBelow <= 0 || t.GeoShareBelow > 1:
		return errors.New("anomaly: geo share must be in (0,1]")
	case t.VelocityWindow <= 0:
		return errors.New("anomaly: velocity window must be > 0")
	}
	return nil
}

// Flag marks one session as suspicious for one reason.
type Flag struct {
	SessionID  string    `json:"sessionId"`
	Reason     Reason    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Metrics summarizes an identity's sessions in the scan window.
type Metrics struct {
	TotalSessions      int               `json:"totalSessions"`
	ActiveSessions     int               `json:"activeSessions"`
	SuspiciousSessions int               `json:"suspiciousSessions"`
	DeviceTypes        map[string]int    `json:"deviceTypes"`
	Locations          map[string]int    `json:"locations"`
	RecentLogins       []*session.Record `json:"recentLogins"`
}

// Report is the result of one scan.
type Report struct {
	IdentityID string    `json:"identityId"`
	WindowDays int       `json:"windowDays"`
	ScannedAt  time.Time `json:"scannedAt"`
	Flags      []Flag    `json:"flags"`
	Metrics    Metrics   `json:"metrics"`
}

// Suspicious reports whether any flag was raised.
func (r Report) Suspicious() bool {
	return len(r.Flags) > 0
}

// SessionSource is the registry view the detector reads.
type SessionSource interface {
	ListSince(ctx context.Context, identityID string, since time.Time) ([]*session.Record, error)
}

// Option configures a [Detector].
type Option func(*Detector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the detector logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// Detector evaluates the heuristics for one identity at a time.
type Detector struct {
	source     SessionSource
	thresholds Thresholds
	now        func() time.Time
	logger     zerolog.Logger
}

// NewDetector validates thresholds and returns a detector.
func NewDetector(source SessionSource, thresholds Thresholds, opts ...Option) (*Detector, error) {
	if source == nil {
		return nil, errors.New("anomaly: session source required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		source:     source,
		thresholds: thresholds,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Scan evaluates every heuristic over the sessions identityID created in the
// last windowDays days.
func (d *Detector) Scan(ctx context.Context, identityID string, windowDays int) (Report, error) {
	if windowDays < 1 {
		return Report{}, ErrInvalidWindow
	}
	now := d.now()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	records, err := d.source.ListSince(ctx, identityID, since)
	if err != nil {
		return Report{}, fmt.Errorf("anomaly: list sessions: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].IssuedAt.Before(records[j].IssuedAt)
	})

	var flags []Flag
	flags = append(flags, d.geoFlags(records, now)...)
	flags = append(flags, d.deviceFlags(records, now)...)
	flags = append(flags, d.velocityFlags(records, now)...)

	report := Report{
		IdentityID: identityID,
		WindowDays: windowDays,
		ScannedAt:  now,
		Flags:      flags,
		Metrics:    summarize(records, flags, now),
	}
	if report.Suspicious() {
		d.logger.Info().
			Str("identity_id", identityID).
			Int("flags", len(flags)).
			Int("suspicious_sessions", report.Metrics.SuspiciousSessions).
			Msg("anomaly scan flagged sessions")
	}
	return report, nil
}

func (d *Detector) recent(records []*session.Record, now time.Time) []*session.Record {
	cutoff := now.Add(-d.thresholds.RecentWindow)
	out := make([]*session.Record, 0, len(records))
	for _, r := range records {
		if !r.IssuedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (d *Detector) geoFlags(records []*session.Record, now time.Time) []Flag {
	population := d.recent(records, now)
	if len(population) <= d.thresholds.GeoMinSessions {
		return nil
	}

	var flags []Flag
	others := len(population) - 1
	for i, r := range population {
		country := r.Location.Country
		shared := 0
		for j, o := range population {
			if i != j && o.Location.Country == country {
				shared++
			}
		}
		share := float64(shared) / float64(others)
		if share < d.thresholds.GeoShareBelow {
			flags = append(flags, Flag{
				SessionID:  r.SessionID,
				Reason:     ReasonGeoDiversity,
				Detail:     fmt.Sprintf("country %s shared by %d of %d recent sessions", countryLabel(country), shared, others),
				DetectedAt: now,
			})
		}
	}
	return flags
}

func (d *Detector) deviceFlags(records []*session.Record, now time.Time) []Flag {
	population := d.recent(records, now)
	if len(population) <= d.thresholds.DeviceMinSessions {
		return nil
	}

	var flags []Flag
	for i, r := range population {
		shared := false
		for j, o := range population {
			if i != j && o.DeviceType == r.DeviceType {
				shared = true
				break
			}
		}
		if !shared {
			flags = append(flags, Flag{
				SessionID:  r.SessionID,
				Reason:     ReasonDeviceDiversity,
				Detail:     fmt.Sprintf("only %s session among %d recent", r.DeviceType, len(population)),
				DetectedAt: now,
			})
		}
	}
	return flags
}

// velocityFlags expects records sorted by IssuedAt.
func (d *Detector) velocityFlags(records []*session.Record, now time.Time) []Flag {
	limit := d.thresholds.VelocityMaxSessions
	if len(records) <= limit {
		return nil
	}

	flagged := make([]bool, len(records))
	start := 0
	for end := range records {
		for records[end].IssuedAt.Sub(records[start].IssuedAt) > d.thresholds.VelocityWindow {
			start++
		}
		if end-start+1 > limit {
			for k := start; k <= end; k++ {
				flagged[k] = true
			}
		}
	}

	var flags []Flag
	for i, hit := range flagged {
		if hit {
			flags = append(flags, Flag{
				SessionID:  records[i].SessionID,
				Reason:     ReasonVelocity,
				Detail:     fmt.Sprintf("more than %d sessions within %s", limit, d.thresholds.VelocityWindow),
				DetectedAt: now,
			})
		}
	}
	return flags
}

func summarize(records []*session.Record, flags []Flag, now time.Time) Metrics {
	m := Metrics{
		TotalSessions: len(records),
		DeviceTypes:   make(map[string]int),
		Locations:     make(map[string]int),
	}

	suspicious := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		suspicious[f.SessionID] = struct{}{}
	}
	m.SuspiciousSessions = len(suspicious)

	for _, r := range records {
		if r.LiveAt(now) {
			m.ActiveSessions++
		}
		device := string(r.DeviceType)
		if device == "" {
			device = string(session.DeviceUnknown)
		}
		m.DeviceTypes[device]++
		m.Locations[countryLabel(r.Location.Country)]++
	}

	n := min(len(records), recentLoginsShown)
	m.RecentLogins = make([]*session.Record, 0, n)
	for i := len(records) - 1; i >= 0 && len(m.RecentLogins) < n; i-- {
		m.RecentLogins = append(m.RecentLogins, records[i])
	}
	return m
}

// countryLabel names unresolved locations. Unresolved sessions compare equal
// to each other in the geo check.
func countryLabel(country string) string {
	if country == "" {
		return "unknown"
	}
	return country
}
