package workflow

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
)

// Decision is the outcome of evaluating a trigger spec against an event.
// Rejection is not an error, the run is simply never created.
type Decision struct {
	Accepted bool
	Reason   string
}

func accept(reason string) Decision {
	return Decision{Accepted: true, Reason: reason}
}

func reject(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}

// Evaluate is a pure, synchronous accept/reject decision. The skip marker
// short-circuits everything else; manual dispatch bypasses branch and path
// filtering entirely.
func (t TriggerSpec) Evaluate(event Event) Decision {
	marker := t.SkipMarker
	if marker == "" {
		marker = DefaultSkipMarker
	}
	if strings.Contains(strings.ToLower(event.CommitMessage), strings.ToLower(marker)) {
		return reject(fmt.Sprintf("commit message contains %q", marker))
	}

	if event.Kind == EventKindManual {
		if !t.ManualDispatch {
			return reject("manual dispatch is disabled")
		}
		return accept("manual dispatch")
	}

	if event.Kind == EventKindPush && !t.matchBranch(event.Ref) {
		return reject(fmt.Sprintf("ref %s does not match any branch filter", event.Ref))
	}

	if !t.anyPathRelevant(event.ChangedPaths) {
		return reject("every changed path is ignored")
	}

	return accept("matched trigger filters")
}

// matchBranch applies the `branches` glob allow-list to a push ref. An
// empty allow-list matches every branch. Non-branch refs (tags etc.) never
// match.
func (t TriggerSpec) matchBranch(ref string) bool {
	if len(t.Branches) == 0 {
		return true
	}

	refName := plumbing.ReferenceName(ref)
	branch := ref
	if refName.IsBranch() {
		branch = refName.Short()
	}

	for _, pattern := range t.Branches {
		if ok, err := doublestar.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

// anyPathRelevant reports whether at least one changed path survives the
// `paths-ignore` deny-list. An event with no changed-path information is
// always considered relevant.
func (t TriggerSpec) anyPathRelevant(paths []string) bool {
	if len(t.PathsIgnore) == 0 || len(paths) == 0 {
		return true
	}

	for _, p := range paths {
		ignored := false
		for _, pattern := range t.PathsIgnore {
			if ok, err := doublestar.Match(pattern, p); err == nil && ok {
				ignored = true
				break
			}
		}
		if !ignored {
			return true
		}
	}
	return false
}
