package launch

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/trustplane/ratelimit"
)

// DefaultDegradeProbability is the share of eligible traffic shed while
// emergency mode is active.
const DefaultDegradeProbability = 0.10

// ErrInvalidMode is returned when an update would produce an unusable mode.
var ErrInvalidMode = errors.New("invalid launch mode")

// Mode is one immutable traffic shaping snapshot.
type Mode struct {
	Canary            bool `json:"isCanary" yaml:"canary"`
	TrafficPercentage int  `json:"trafficPercentage" yaml:"traffic_percentage"`
	EmergencyMode     bool `json:"emergencyMode" yaml:"emergency_mode"`
}

// Label returns "canary" or "stable".
func (m Mode) Label() string {
	if m.Canary {
		return "canary"
	}
	return "stable"
}

// Update is a partial mode change. Nil fields keep their current value.
type Update struct {
	Canary            *bool `json:"isCanary,omitempty"`
	TrafficPercentage *int  `json:"trafficPercentage,omitempty"`
	EmergencyMode     *bool `json:"emergencyMode,omitempty"`
}

// Apply returns m with u merged in.
func (u Update) Apply(m Mode) (Mode, error) {
	if u.Canary != nil {
		m.Canary = *u.Canary
	}
	if u.TrafficPercentage != nil {
		m.TrafficPercentage = *u.TrafficPercentage
	}
	if u.EmergencyMode != nil {
		m.EmergencyMode = *u.EmergencyMode
	}
	if m.TrafficPercentage < 0 || m.TrafficPercentage > 100 {
		return m, errors.Join(ErrInvalidMode, errors.New("traffic percentage must be between 0 and 100"))
	}
	return m, nil
}

// Option configures a [Controller].
type Option func(*Controller)

// WithRand replaces the uniform [0,1) source used by the gates.
func WithRand(fn func() float64) Option {
	return func(c *Controller) {
		if fn != nil {
			c.rand = fn
		}
	}
}

// WithDegradeProbability overrides [DefaultDegradeProbability].
func WithDegradeProbability(p float64) Option {
	return func(c *Controller) {
		if p >= 0 && p <= 1 {
			c.degradeProbability = p
		}
	}
}

// OnChange registers a callback invoked after every successful SetMode.
func OnChange(fn func(previous, current Mode)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// Controller owns the current [Mode].
type Controller struct {
	mode               atomic.Pointer[Mode]
	mu                 sync.Mutex
	rand               func() float64
	degradeProbability float64
	onChange           func(previous, current Mode)
}

// NewController creates a controller starting at initial. An out-of-range
// percentage is clamped.
func NewController(initial Mode, opts ...Option) *Controller {
	c := &Controller{
		rand:               rand.Float64,
		degradeProbability: DefaultDegradeProbability,
	}
	for _, opt := range opts {
		opt(c)
	}

	initial.TrafficPercentage = min(max(initial.TrafficPercentage, 0), 100)
	c.mode.Store(&initial)
	return c
}

// GetMode returns the current snapshot.
func (c *Controller) GetMode() Mode {
	return *c.mode.Load()
}

// SetMode merges u into the current mode and publishes the result.
func (c *Controller) SetMode(u Update) (Mode, error) {
	c.mu.Lock()
	previous := *c.mode.Load()
	next, err := u.Apply(previous)
	if err != nil {
		c.mu.Unlock()
		return previous, err
	}
	c.mode.Store(&next)
	c.mu.Unlock()

	if c.onChange != nil && next != previous {
		c.onChange(previous, next)
	}
	return next, nil
}

// Replace publishes m as a whole, as received from another instance.
func (c *Controller) Replace(m Mode) (Mode, error) {
	canary, pct, emergency := m.Canary, m.TrafficPercentage, m.EmergencyMode
	return c.SetMode(Update{Canary: &canary, TrafficPercentage: &pct, EmergencyMode: &emergency})
}

// GateCanary reports whether this request belongs to the canary share.
// Outside canary mode, or at 100%, every request is admitted.
func (c *Controller) GateCanary() bool {
	m := c.mode.Load()
	if !m.Canary || m.TrafficPercentage >= 100 {
		return true
	}
	return c.rand()*100 < float64(m.TrafficPercentage)
}

// GateDegrade reports whether a request governed by policy should get a
// degraded response instead of normal processing. Only degrade-eligible
// policies are ever shed, and only while emergency mode is active.
func (c *Controller) GateDegrade(policy ratelimit.Policy) bool {
	if !policy.Degrade {
		return false
	}
	if !c.mode.Load().EmergencyMode {
		return false
	}
	return c.rand() < c.degradeProbability
}

// Headers returns the response headers describing m.
func Headers(m Mode) map[string]string {
	h := map[string]string{
		"X-Launch-Mode":        m.Label(),
		"X-Traffic-Percentage": strconv.Itoa(m.TrafficPercentage),
	}
	if m.EmergencyMode {
		h["X-Emergency-Mode"] = "true"
	}
	return h
}
