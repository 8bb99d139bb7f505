package trustplane

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/trustplane/ratelimit"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricAdmissionAllowed counts requests admitted by the rate limiter.
	MetricAdmissionAllowed MetricID = iota
	// MetricAdmissionRateLimited counts requests denied with 429.
	MetricAdmissionRateLimited
	// MetricAdmissionFailOpen counts admissions granted because the counter
	// store was unavailable.
	MetricAdmissionFailOpen
	// MetricAdmissionShed counts requests shed by emergency degrade.
	MetricAdmissionShed
	// MetricAdmissionCanaryExcluded counts requests outside the canary slice.
	MetricAdmissionCanaryExcluded
	MetricLoginSuccess
	MetricLoginFailure
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshRateLimited
	MetricSessionCreated
	MetricSessionTerminated
	MetricSessionSwept
	MetricLogout
	MetricLogoutOthers
	MetricAnomalyScans
	MetricAnomalySuspicious
	MetricAnomalyFlags
	// MetricAnomalyErrors counts failed scans. Detector failures never reach
	// callers on the request path.
	MetricAnomalyErrors
	MetricLaunchModeChanged
	// MetricAdmissionLatency is a histogram of Admit durations.
	MetricAdmissionLatency
	// MetricValidateLatency is a histogram of Authenticate durations.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A nil or disabled *Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram

	// admissions holds one *uint64 per AdmissionLabel.
	admissions sync.Map
}

// Admission decision labels.
const (
	DecisionAllowed        = "allowed"
	DecisionRateLimited    = "rate_limited"
	DecisionFailOpen       = "fail_open"
	DecisionShed           = "degraded"
	DecisionCanaryExcluded = "canary_excluded"
)

// AdmissionLabel identifies one labelled admission series.
type AdmissionLabel struct {
	Route    string
	KeyClass string
	Decision string
}

// AdmissionCount is one labelled admission counter value.
type AdmissionCount struct {
	AdmissionLabel
	Value uint64
}

// MetricsSnapshot is a point-in-time copy of all counters and enabled
// histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// Admissions is sorted by route, key class, then decision.
	Admissions []AdmissionCount
}

// NewMetrics returns a metrics set configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram id. Only latency metrics carry
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, every histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	m.admissions.Range(func(k, v any) bool {
		s.Admissions = append(s.Admissions, AdmissionCount{
			AdmissionLabel: k.(AdmissionLabel),
			Value:          atomic.LoadUint64(v.(*uint64)),
		})
		return true
	})
	sort.Slice(s.Admissions, func(i, j int) bool {
		a, b := s.Admissions[i], s.Admissions[j]
		if a.Route != b.Route {
			return a.Route < b.Route
		}
		if a.KeyClass != b.KeyClass {
			return a.KeyClass < b.KeyClass
		}
		return a.Decision < b.Decision
	})

	if m.enableLatency {
		for _, id := range []MetricID{MetricAdmissionLatency, MetricValidateLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

// recordAdmission counts one decision in the labelled admission series.
func (m *Metrics) recordAdmission(route string, class ratelimit.KeyClass, decision string) {
	if m == nil || !m.enabled {
		return
	}
	label := AdmissionLabel{Route: route, KeyClass: string(class), Decision: decision}
	v, ok := m.admissions.Load(label)
	if !ok {
		v, _ = m.admissions.LoadOrStore(label, new(uint64))
	}
	atomic.AddUint64(v.(*uint64), 1)
}

// observeAdmission is the rate limiter observer.
func (m *Metrics) observeAdmission(route string, key ratelimit.Key, decision ratelimit.Decision) {
	switch {
	case decision.Degraded:
		m.Inc(MetricAdmissionFailOpen)
		m.Inc(MetricAdmissionAllowed)
		m.recordAdmission(route, key.Class, DecisionFailOpen)
	case decision.Allowed:
		m.Inc(MetricAdmissionAllowed)
		m.recordAdmission(route, key.Class, DecisionAllowed)
	default:
		m.Inc(MetricAdmissionRateLimited)
		m.recordAdmission(route, key.Class, DecisionRateLimited)
	}
}

func isHistogram(id MetricID) bool {
	return id == MetricAdmissionLatency || id == MetricValidateLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
