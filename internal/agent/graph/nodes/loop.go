package nodes

import (
	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

const DefaultMaxAttempts = 3

// NormalizeMaxAttempts returns DefaultMaxAttempts for non-positive values.
func NormalizeMaxAttempts(n int) int {
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}

// NextLoopState is the transition taken after validating attempt number
// attempt (1-based).
func NextLoopState(attempt, maxAttempts int, passed bool) model.LoopState {
	maxAttempts = NormalizeMaxAttempts(maxAttempts)
	switch {
	case passed:
		return model.StatePassed
	case attempt < maxAttempts:
		return model.StateRetry
	default:
		return model.StateExhausted
	}
}
