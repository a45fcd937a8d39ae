package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalDefinition(t *testing.T) {
	yamlData := `
on:
  branches: ["main", "feature/*"]
  paths-ignore: "*.md"

jobs:
  test:
    runs-on: node-20
    steps:
      - command: npm test
  build:
    needs: test
    runs-on: node-20
    timeout: 10m
    steps:
      - name: Build
        command: npm run build
`

	def, err := FromFile("ci.yml", []byte(yamlData))
	require.NoError(t, err, "YAML should unmarshal without error")

	assert.Equal(t, "ci.yml", def.Name)
	assert.ElementsMatch(t, []string{"main", "feature/*"}, def.On.Branches)
	assert.ElementsMatch(t, []string{"*.md"}, def.On.PathsIgnore, "scalar should decode as single-element list")

	require.Contains(t, def.Jobs, "build")
	build := def.Jobs["build"]
	assert.ElementsMatch(t, []string{"test"}, build.Needs)
	assert.Equal(t, 10*time.Minute, build.Timeout.Std())
	assert.Equal(t, "node-20", build.RunsOn)
}

func TestUnmarshalCompositeStep(t *testing.T) {
	yamlData := `
jobs:
  deploy:
    steps:
      - uses: weft/deploy
        with:
          environment: pages
          artifact: dist
        continue-on-error: true
`

	def, err := FromFile("deploy.yml", []byte(yamlData))
	require.NoError(t, err)

	steps := def.Jobs["deploy"].Steps
	require.Len(t, steps, 1)
	assert.True(t, steps[0].IsComposite())
	assert.Equal(t, "pages", steps[0].With["environment"])
	assert.True(t, steps[0].ContinueOnError)
	assert.Equal(t, "weft/deploy", steps[0].DisplayName())
}

func TestUnmarshalBadDuration(t *testing.T) {
	yamlData := `
jobs:
  slow:
    timeout: eleven minutes
    steps:
      - command: sleep 1
`

	_, err := FromFile("slow.yml", []byte(yamlData))
	assert.Error(t, err)
}
