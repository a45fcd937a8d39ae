package workflow

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// Builtin action names understood by the step runner. They are declared
// here so static validation can reason about artifact flow before
// anything executes.
const (
	ActionCheckout         = "weft/checkout"
	ActionCache            = "weft/cache"
	ActionUploadArtifact   = "weft/upload-artifact"
	ActionDownloadArtifact = "weft/download-artifact"
	ActionDeploy           = "weft/deploy"
	ActionQualityGate      = "weft/quality-gate"
)

// Validate performs the eager configuration checks on a definition: the
// `needs` relation must reference defined jobs and form a DAG, every step
// must be exactly one of command/uses, and statically declared artifact
// consumption must be ordered after production along `needs` edges.
func (d *Definition) Validate() error {
	if len(d.Jobs) == 0 {
		return fmt.Errorf("workflow %s: no jobs defined", d.Name)
	}

	for id, job := range d.Jobs {
		for _, dep := range job.Needs {
			if _, ok := d.Jobs[dep]; !ok {
				return fmt.Errorf("workflow %s: job %q needs undefined job %q", d.Name, id, dep)
			}
			if dep == id {
				return fmt.Errorf("workflow %s: job %q needs itself", d.Name, id)
			}
		}

		for i, step := range job.Steps {
			if step.Command != "" && step.Uses != "" {
				return fmt.Errorf("workflow %s: job %q step %d sets both command and uses", d.Name, id, i)
			}
			if step.Command == "" && step.Uses == "" {
				return fmt.Errorf("workflow %s: job %q step %d sets neither command nor uses", d.Name, id, i)
			}
		}
	}

	if _, err := d.TopoOrder(); err != nil {
		return err
	}

	return d.validateArtifactFlow()
}

// TopoOrder returns the job ids in a valid execution order, or an error
// when the `needs` relation contains a cycle.
func (d *Definition) TopoOrder() ([]string, error) {
	var edges []toposort.Edge
	for id, job := range d.Jobs {
		for _, dep := range job.Needs {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	roots := make([]string, 0, len(d.Jobs))
	for id := range d.Jobs {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	if len(edges) == 0 {
		return roots, nil
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: cycle in job graph: %w", d.Name, err)
	}

	inSorted := make(map[string]bool, len(sorted))
	order := make([]string, 0, len(d.Jobs))
	for _, node := range sorted {
		id := node.(string)
		inSorted[id] = true
		order = append(order, id)
	}

	// jobs with no edges at all still participate
	for _, id := range roots {
		if !inSorted[id] {
			order = append([]string{id}, order...)
		}
	}

	return order, nil
}

// Ancestors returns the transitive `needs` closure of a job.
func (d *Definition) Ancestors(id string) map[string]bool {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range d.Jobs[cur].Needs {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return seen
}

// validateArtifactFlow catches download-before-upload mistakes that are
// visible statically: a job consuming a named artifact must have a
// transitive ancestor producing it. Artifact visibility is only
// guaranteed along `needs` edges.
func (d *Definition) validateArtifactFlow() error {
	producedBy := make(map[string][]string) // artifact name -> producing jobs
	for id, job := range d.Jobs {
		for _, step := range job.Steps {
			if step.Uses == ActionUploadArtifact {
				if name := step.With["name"]; name != "" {
					producedBy[name] = append(producedBy[name], id)
				}
			}
		}
	}

	for id, job := range d.Jobs {
		ancestors := d.Ancestors(id)
		for _, step := range job.Steps {
			name := step.With["name"]
			var consumes bool
			switch step.Uses {
			case ActionDownloadArtifact:
				consumes = name != ""
			case ActionDeploy:
				name = step.With["artifact"]
				consumes = name != ""
			}
			if !consumes {
				continue
			}

			ok := false
			for _, producer := range producedBy[name] {
				if producer == id || ancestors[producer] {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf(
					"workflow %s: job %q consumes artifact %q which no `needs` ancestor produces",
					d.Name, id, name,
				)
			}
		}
	}

	return nil
}
