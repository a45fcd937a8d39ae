package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// CompositeAction is a reusable named step sequence with a declared input
// schema. Builtin actions (cache, artifacts, checkout, deploy, quality
// gate) register through the same interface; they expand to a single step
// the engine executes host-side.
type CompositeAction struct {
	Name    string
	Inputs  []InputSpec
	Steps   []Step
	Builtin bool
}

type InputSpec struct {
	Name     string
	Required bool
	Default  string
}

// Registry holds the composite actions a server knows about. Lookup by
// the `uses:` reference.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]CompositeAction
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]CompositeAction)}
}

func (r *Registry) Register(a CompositeAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.Name]; ok {
		return fmt.Errorf("action %q already registered", a.Name)
	}
	r.actions[a.Name] = a
	return nil
}

func (r *Registry) Lookup(name string) (CompositeAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var inputRef = regexp.MustCompile(`\$\{\{\s*inputs\.([a-zA-Z_][a-zA-Z0-9_-]*)\s*\}\}`)

// ResolveInputs validates a `with:` block against the action's input
// schema: missing required inputs are a configuration error, declared
// defaults fill absent inputs, undeclared inputs are rejected.
func (a CompositeAction) ResolveInputs(with map[string]string) (map[string]string, error) {
	declared := make(map[string]InputSpec, len(a.Inputs))
	for _, in := range a.Inputs {
		declared[in.Name] = in
	}

	for name := range with {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("action %s: undeclared input %q", a.Name, name)
		}
	}

	resolved := make(map[string]string, len(a.Inputs))
	for _, in := range a.Inputs {
		if v, ok := with[in.Name]; ok {
			resolved[in.Name] = v
			continue
		}
		if in.Required {
			return nil, fmt.Errorf("action %s: missing required input %q", a.Name, in.Name)
		}
		resolved[in.Name] = in.Default
	}

	return resolved, nil
}

// Expand replaces a composite reference step with the action's step
// sequence, interpolating `${{ inputs.x }}` references. Builtin actions
// expand to a single step that keeps the `uses:` reference with its
// resolved inputs attached.
func (r *Registry) Expand(step Step) ([]Step, error) {
	action, ok := r.Lookup(step.Uses)
	if !ok {
		return nil, fmt.Errorf("unknown action %q", step.Uses)
	}

	inputs, err := action.ResolveInputs(step.With)
	if err != nil {
		return nil, err
	}

	if action.Builtin {
		expanded := step
		expanded.With = inputs
		if expanded.Name == "" {
			expanded.Name = action.Name
		}
		return []Step{expanded}, nil
	}

	var out []Step
	for _, inner := range action.Steps {
		if inner.IsComposite() {
			// actions may nest other actions
			nested := inner
			nested.With = interpolateMap(inner.With, inputs)
			sub, err := r.Expand(nested)
			if err != nil {
				return nil, fmt.Errorf("action %s: %w", action.Name, err)
			}
			out = append(out, sub...)
			continue
		}

		s := inner
		s.Command = interpolate(inner.Command, inputs)
		s.Environment = interpolateMap(inner.Environment, inputs)
		if s.If == "" {
			s.If = step.If
		}
		s.ContinueOnError = s.ContinueOnError || step.ContinueOnError
		out = append(out, s)
	}

	return out, nil
}

func interpolate(s string, inputs map[string]string) string {
	return inputRef.ReplaceAllStringFunc(s, func(m string) string {
		name := inputRef.FindStringSubmatch(m)[1]
		return inputs[name]
	})
}

func interpolateMap(m, inputs map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = interpolate(v, inputs)
	}
	return out
}
