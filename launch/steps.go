package launch

// Steps is the canary rollout ladder used by operator promotion.
var Steps = []int{1, 5, 25, 100}

// NextStep returns the first step above pct, or 100 when pct is already at
// or past the last step.
func NextStep(pct int) int {
	for _, step := range Steps {
		if step > pct {
			return step
		}
	}
	return 100
}
