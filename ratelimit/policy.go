package ratelimit

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRoute is the pattern reported for requests that match no entry.
const DefaultRoute = "default"

// Policy is the admission budget for one route pattern.
type Policy struct {
	Requests      int  `yaml:"requests"`
	WindowSeconds int  `yaml:"window"`
	Burst         int  `yaml:"burst"`
	Degrade       bool `yaml:"degrade"`
}

// Window returns the sliding window length.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Validate reports whether p can be enforced.
func (p Policy) Validate() error {
	if p.Requests <= 0 {
		return fmt.Errorf("%w: requests must be > 0", ErrInvalidPolicy)
	}
	if p.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidPolicy)
	}
	if p.Burst < 0 {
		return fmt.Errorf("%w: burst must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// PolicyTable maps route patterns to policies. It is immutable once built
// and safe for concurrent lookups.
type PolicyTable struct {
	fallback Policy
	routes   map[string]Policy
	patterns []string
}

type policyFile struct {
	Default  Policy            `yaml:"default"`
	Policies map[string]Policy `yaml:"policies"`
}

// NewPolicyTable validates and indexes the given policies.
func NewPolicyTable(fallback Policy, routes map[string]Policy) (*PolicyTable, error) {
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	t := &PolicyTable{
		fallback: fallback,
		routes:   make(map[string]Policy, len(routes)),
		patterns: make([]string, 0, len(routes)),
	}
	for pattern, policy := range routes {
		pattern = strings.TrimSpace(pattern)
		if !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("%w: route pattern %q must start with /", ErrInvalidPolicy, pattern)
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", pattern, err)
		}
		t.routes[pattern] = policy
		t.patterns = append(t.patterns, pattern)
	}

	// Longest pattern first so the most specific prefix wins.
	sort.Slice(t.patterns, func(i, j int) bool {
		if len(t.patterns[i]) != len(t.patterns[j]) {
			return len(t.patterns[i]) > len(t.patterns[j])
		}
		return t.patterns[i] < t.patterns[j]
	})

	return t, nil
}

// LoadPolicyTable parses a YAML policy document:
//
//	default: {requests: 100, window: 60, burst: 20}
//	policies:
//	  /api/run: {requests: 60, window: 60, burst: 10, degrade: true}
func LoadPolicyTable(r io.Reader) (*PolicyTable, error) {
	var doc policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode policy table: %w", err)
	}
	return NewPolicyTable(doc.Default, doc.Policies)
}

// LoadPolicyFile reads a YAML policy table from disk.
func LoadPolicyFile(path string) (*PolicyTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPolicyTable(f)
}

// DefaultPolicyTable returns the built-in route budgets.
func DefaultPolicyTable() *PolicyTable {
	t, err := NewPolicyTable(
		Policy{Requests: 100, WindowSeconds: 60, Burst: 30},
		map[string]Policy{
			"/api/auth":                {Requests: 10, WindowSeconds: 60, Burst: 5},
			"/api/auth/login":          {Requests: 5, WindowSeconds: 300, Burst: 0},
			"/api/auth/signup":         {Requests: 3, WindowSeconds: 600, Burst: 0},
			"/api/auth/password-reset": {Requests: 3, WindowSeconds: 3600, Burst: 0},
			"/api/export":              {Requests: 20, WindowSeconds: 60, Burst: 5},
			"/api/analytics":           {Requests: 120, WindowSeconds: 60, Burst: 30, Degrade: true},
			"/api/gpt-test":            {Requests: 60, WindowSeconds: 60, Burst: 10, Degrade: true},
			"/api/run":                 {Requests: 60, WindowSeconds: 60, Burst: 10, Degrade: true},
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the matched pattern and its policy. Patterns match the path
// itself or any path below it; unmatched paths get [DefaultRoute].
func (t *PolicyTable) Lookup(path string) (string, Policy) {
	for _, pattern := range t.patterns {
		if matchPattern(pattern, path) {
			return pattern, t.routes[pattern]
		}
	}
	return DefaultRoute, t.fallback
}

// Default returns the fallback policy.
func (t *PolicyTable) Default() Policy {
	return t.fallback
}

// Routes returns a copy of the configured route policies.
func (t *PolicyTable) Routes() map[string]Policy {
	out := make(map[string]Policy, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

func matchPattern(pattern, path string) bool {
	if path == pattern {
		return true
	}
	base := strings.TrimSuffix(pattern, "/")
	return strings.HasPrefix(path, base+"/")
}
