package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// stepState is what a step's `if` expression can observe: whether an
// earlier step already failed the job, and which cache steps missed.
type stepState struct {
	Failed    bool
	CacheMiss map[string]bool
}

var cacheMissRe = regexp.MustCompile(`^cache-miss\(\s*([a-zA-Z0-9_.-]+)\s*\)$`)

// EvalCondition decides whether a step runs. An empty expression is
// success(): run unless the job already failed. failure() inverts
// that, always() ignores it, and cache-miss(id) runs only when the
// named cache step missed (and the job is still healthy).
func EvalCondition(expr string, state stepState) (bool, error) {
	switch strings.TrimSpace(expr) {
	case "", "success()":
		return !state.Failed, nil
	case "failure()":
		return state.Failed, nil
	case "always()":
		return true, nil
	}

	if m := cacheMissRe.FindStringSubmatch(strings.TrimSpace(expr)); m != nil {
		return !state.Failed && state.CacheMiss[m[1]], nil
	}

	return false, fmt.Errorf("unknown condition %q", expr)
}
