package workflow

import (
	"fmt"
	"maps"
	"time"
)

type RawWorkflow struct {
	Name     string
	Contents []byte
}

// Compiler turns the workflow files of a repository into an executable
// plan for one event, collecting diagnostics along the way. Rejected
// triggers produce warnings, broken configuration produces errors.
type Compiler struct {
	Event       Event
	Registry    *Registry
	Diagnostics Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

type WarningKind string

var (
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

// Plan is the compiled, immutable form a run executes.
type Plan struct {
	Event     Event
	Workflows []CompiledWorkflow
}

type CompiledWorkflow struct {
	Name        string
	Environment map[string]string
	Jobs        map[string]CompiledJob
	Order       []string // a valid topological order of job ids
}

type CompiledJob struct {
	Name        string
	Needs       []string
	Image       string
	Timeout     time.Duration
	Environment map[string]string
	Steps       []Step // composite references already expanded
}

func (compiler *Compiler) Parse(raw []RawWorkflow) []Definition {
	var defs []Definition

	for _, r := range raw {
		def, err := FromFile(r.Name, r.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(r.Name, err)
			continue
		}

		defs = append(defs, def)
	}

	return defs
}

// Compile evaluates triggers, validates graphs and expands composite
// actions. Workflows whose trigger rejects the event are dropped with a
// warning; configuration errors drop the workflow with an error.
func (compiler *Compiler) Compile(defs []Definition) Plan {
	plan := Plan{Event: compiler.Event}

	for _, def := range defs {
		cw := compiler.compileWorkflow(def)
		if cw == nil {
			continue
		}
		plan.Workflows = append(plan.Workflows, *cw)
	}

	return plan
}

func (compiler *Compiler) compileWorkflow(def Definition) *CompiledWorkflow {
	decision := def.On.Evaluate(compiler.Event)
	if !decision.Accepted {
		compiler.Diagnostics.AddWarning(def.Name, WorkflowSkipped, decision.Reason)
		return nil
	}

	if err := def.Validate(); err != nil {
		compiler.Diagnostics.AddError(def.Name, err)
		return nil
	}

	order, err := def.TopoOrder()
	if err != nil {
		compiler.Diagnostics.AddError(def.Name, err)
		return nil
	}

	cw := &CompiledWorkflow{
		Name:        def.Name,
		Environment: def.Environment,
		Jobs:        make(map[string]CompiledJob, len(def.Jobs)),
		Order:       order,
	}

	for id, job := range def.Jobs {
		cj, err := compiler.compileJob(id, job, def.Environment)
		if err != nil {
			compiler.Diagnostics.AddError(def.Name, err)
			return nil
		}
		cw.Jobs[id] = cj
	}

	return cw
}

// compileJob flattens the workflow-level environment under the job's
// own, so the executed job is self-contained.
func (compiler *Compiler) compileJob(id string, job Job, base map[string]string) (CompiledJob, error) {
	env := make(map[string]string, len(base)+len(job.Environment))
	maps.Copy(env, base)
	maps.Copy(env, job.Environment)

	cj := CompiledJob{
		Name:        id,
		Needs:       job.Needs,
		Image:       job.RunsOn,
		Timeout:     job.Timeout.Std(),
		Environment: env,
	}

	for _, step := range job.Steps {
		if !step.IsComposite() {
			cj.Steps = append(cj.Steps, step)
			continue
		}

		expanded, err := compiler.Registry.Expand(step)
		if err != nil {
			return cj, fmt.Errorf("job %q: %w", id, err)
		}
		cj.Steps = append(cj.Steps, expanded...)
	}

	return cj, nil
}
