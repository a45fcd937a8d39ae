package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushEvent() Event {
	return Event{
		Kind:         EventKindPush,
		Ref:          "refs/heads/main",
		ChangedPaths: []string{"src/app.js"},
	}
}

func compileOne(t *testing.T, yamlData string, event Event) (Plan, Diagnostics) {
	t.Helper()
	compiler := Compiler{Event: event, Registry: testRegistry(t)}
	defs := compiler.Parse([]RawWorkflow{{Name: "ci.yml", Contents: []byte(yamlData)}})
	plan := compiler.Compile(defs)
	return plan, compiler.Diagnostics
}

func TestCompileCycleIsConfigurationError(t *testing.T) {
	plan, diags := compileOne(t, `
jobs:
  a:
    needs: b
    steps:
      - command: "true"
  b:
    needs: a
    steps:
      - command: "true"
`, pushEvent())

	assert.Empty(t, plan.Workflows, "nothing may execute from a cyclic graph")
	require.True(t, diags.IsErr())
	assert.Contains(t, diags.Errors[0].Error.Error(), "cycle")
}

func TestCompileUndefinedNeeds(t *testing.T) {
	plan, diags := compileOne(t, `
jobs:
  build:
    needs: compile
    steps:
      - command: make
`, pushEvent())

	assert.Empty(t, plan.Workflows)
	require.True(t, diags.IsErr())
	assert.Contains(t, diags.Errors[0].Error.Error(), "undefined job")
}

func TestCompileTriggerRejectionIsWarning(t *testing.T) {
	plan, diags := compileOne(t, `
on:
  branches: release/*
jobs:
  build:
    steps:
      - command: make
`, pushEvent())

	assert.Empty(t, plan.Workflows)
	assert.False(t, diags.IsErr(), "a rejected trigger is not an error")
	require.Len(t, diags.Warnings, 1)
	assert.Equal(t, WorkflowSkipped, diags.Warnings[0].Type)
}

func TestCompileExpandsComposites(t *testing.T) {
	plan, diags := compileOne(t, `
jobs:
  test:
    steps:
      - uses: setup-node
        with:
          version: "20"
      - command: npm test
`, pushEvent())

	require.False(t, diags.IsErr(), "diagnostics: %v", diags.Errors)
	require.Len(t, plan.Workflows, 1)

	steps := plan.Workflows[0].Jobs["test"].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, "install-node 20", steps[0].Command)
	assert.Equal(t, "npm test", steps[2].Command)
}

func TestCompileMissingInputIsError(t *testing.T) {
	plan, diags := compileOne(t, `
jobs:
  test:
    steps:
      - uses: setup-node
`, pushEvent())

	assert.Empty(t, plan.Workflows)
	require.True(t, diags.IsErr())
	assert.Contains(t, diags.Errors[0].Error.Error(), "missing required input")
}

func TestCompileArtifactBeforeProduce(t *testing.T) {
	yamlData := `
jobs:
  build:
    steps:
      - uses: weft/upload-artifact
        with:
          name: dist
          path: dist/
  deploy:
    steps:
      - uses: weft/download-artifact
        with:
          name: dist
          path: dist/
`

	compiler := Compiler{Event: pushEvent(), Registry: builtinsRegistry(t)}
	defs := compiler.Parse([]RawWorkflow{{Name: "ci.yml", Contents: []byte(yamlData)}})
	plan := compiler.Compile(defs)

	assert.Empty(t, plan.Workflows, "deploy lacks a needs edge to build")
	require.True(t, compiler.Diagnostics.IsErr())
	assert.Contains(t, compiler.Diagnostics.Errors[0].Error.Error(), "consumes artifact")
}

func TestCompileArtifactAlongNeedsEdge(t *testing.T) {
	yamlData := `
jobs:
  build:
    steps:
      - uses: weft/upload-artifact
        with:
          name: dist
          path: dist/
  deploy:
    needs: build
    steps:
      - uses: weft/download-artifact
        with:
          name: dist
          path: dist/
`

	compiler := Compiler{Event: pushEvent(), Registry: builtinsRegistry(t)}
	defs := compiler.Parse([]RawWorkflow{{Name: "ci.yml", Contents: []byte(yamlData)}})
	plan := compiler.Compile(defs)

	require.False(t, compiler.Diagnostics.IsErr(), "diagnostics: %v", compiler.Diagnostics.Errors)
	require.Len(t, plan.Workflows, 1)

	// topological order respects the needs edge
	order := plan.Workflows[0].Order
	require.Len(t, order, 2)
	assert.Equal(t, []string{"build", "deploy"}, order)
}

func builtinsRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, a := range []CompositeAction{
		{
			Name: ActionUploadArtifact,
			Inputs: []InputSpec{
				{Name: "name", Required: true},
				{Name: "path", Required: true},
			},
			Builtin: true,
		},
		{
			Name: ActionDownloadArtifact,
			Inputs: []InputSpec{
				{Name: "name", Required: true},
				{Name: "path", Required: true},
			},
			Builtin: true,
		},
	} {
		require.NoError(t, r.Register(a))
	}
	return r
}
