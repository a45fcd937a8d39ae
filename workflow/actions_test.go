package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	require.NoError(t, r.Register(CompositeAction{
		Name: "setup-node",
		Inputs: []InputSpec{
			{Name: "version", Required: true},
			{Name: "registry", Default: "https://registry.npmjs.org"},
		},
		Steps: []Step{
			{Name: "Install node", Command: "install-node ${{ inputs.version }}"},
			{Name: "Point registry", Command: "npm config set registry ${{ inputs.registry }}"},
		},
	}))

	require.NoError(t, r.Register(CompositeAction{
		Name: ActionCache,
		Inputs: []InputSpec{
			{Name: "path", Required: true},
			{Name: "key", Required: true},
		},
		Builtin: true,
	}))

	return r
}

func TestExpandComposite(t *testing.T) {
	r := testRegistry(t)

	steps, err := r.Expand(Step{
		Uses: "setup-node",
		With: map[string]string{"version": "20"},
	})
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "install-node 20", steps[0].Command)
	assert.Equal(t, "npm config set registry https://registry.npmjs.org", steps[1].Command,
		"declared default should fill absent input")
}

func TestExpandMissingRequiredInput(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Expand(Step{Uses: "setup-node"})
	assert.ErrorContains(t, err, "missing required input")
}

func TestExpandUndeclaredInput(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Expand(Step{
		Uses: "setup-node",
		With: map[string]string{"version": "20", "os": "linux"},
	})
	assert.ErrorContains(t, err, "undeclared input")
}

func TestExpandUnknownAction(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Expand(Step{Uses: "does/not-exist"})
	assert.ErrorContains(t, err, "unknown action")
}

func TestExpandBuiltin(t *testing.T) {
	r := testRegistry(t)

	steps, err := r.Expand(Step{
		Uses: ActionCache,
		With: map[string]string{"path": "node_modules", "key": "npm-abc123"},
	})
	require.NoError(t, err)
	require.Len(t, steps, 1, "builtins stay a single step for the engine")

	assert.Equal(t, ActionCache, steps[0].Uses)
	assert.Equal(t, "node_modules", steps[0].With["path"])
}

func TestExpandInheritsConditionAndBestEffort(t *testing.T) {
	r := testRegistry(t)

	steps, err := r.Expand(Step{
		Uses:            "setup-node",
		With:            map[string]string{"version": "20"},
		If:              "failure()",
		ContinueOnError: true,
	})
	require.NoError(t, err)

	for _, s := range steps {
		assert.Equal(t, "failure()", s.If)
		assert.True(t, s.ContinueOnError)
	}
}
