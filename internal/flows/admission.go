package flows

import (
	"context"

	"github.com/MrEthical07/trustplane/launch"
	"github.com/MrEthical07/trustplane/ratelimit"
)

// AdmissionOutcome is the verdict of the admission pipeline.
type AdmissionOutcome int

const (
	AdmissionAllowed AdmissionOutcome = iota
	AdmissionCanaryExcluded
	AdmissionDegraded
	AdmissionRateLimited
)

// AdmissionInput identifies one inbound request.
type AdmissionInput struct {
	Path           string
	OrganizationID string
	UserID         string
	IP             string
}

// AdmissionResult carries the verdict and everything the HTTP layer needs
// to render it.
type AdmissionResult struct {
	Outcome  AdmissionOutcome
	Route    string
	Key      ratelimit.Key
	Policy   ratelimit.Policy
	Decision ratelimit.Decision
	Mode     launch.Mode
}

type LaunchGate interface {
	GetMode() launch.Mode
	GateCanary() bool
	GateDegrade(policy ratelimit.Policy) bool
}

type Admitter interface {
	Admit(ctx context.Context, route string, key ratelimit.Key, policy ratelimit.Policy) ratelimit.Decision
}

type PolicyLookup interface {
	Lookup(path string) (string, ratelimit.Policy)
}

// AdmissionDeps captures admission dependencies. A nil Limiter disables
// rate limiting.
type AdmissionDeps struct {
	Launch   LaunchGate
	Limiter  Admitter
	Policies PolicyLookup
}

// RunAdmission applies the canary gate, then the degrade gate, then the
// rate limiter.
func RunAdmission(ctx context.Context, in AdmissionInput, deps AdmissionDeps) AdmissionResult {
	route, policy := deps.Policies.Lookup(in.Path)
	res := AdmissionResult{
		Route:  route,
		Key:    ratelimit.ResolveKey(in.OrganizationID, in.UserID, in.IP),
		Policy: policy,
		Mode:   deps.Launch.GetMode(),
	}

	if !deps.Launch.GateCanary() {
		res.Outcome = AdmissionCanaryExcluded
		return res
	}
	if deps.Launch.GateDegrade(policy) {
		res.Outcome = AdmissionDegraded
		return res
	}

	if deps.Limiter == nil {
		res.Decision = ratelimit.Decision{Allowed: true, Remaining: policy.Requests, Limit: policy.Requests}
		res.Outcome = AdmissionAllowed
		return res
	}

	res.Decision = deps.Limiter.Admit(ctx, route, res.Key, policy)
	if !res.Decision.Allowed {
		res.Outcome = AdmissionRateLimited
		return res
	}
	res.Outcome = AdmissionAllowed
	return res
}
