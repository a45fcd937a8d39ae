package workflow

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// - a repository carries one or more workflow files under .weft/workflows/
// - an accepted event instantiates one Run per matched workflow file
// - each workflow is a DAG of jobs related by `needs` edges
// - jobs with satisfied dependencies execute in parallel, steps in a job
//   execute serially

type (
	// Definition is the structural representation of one workflow file.
	// It is immutable once a run is created from it.
	Definition struct {
		Name        string            `yaml:"-"` // name of the workflow file
		On          TriggerSpec       `yaml:"on"`
		Environment map[string]string `yaml:"environment"`
		Jobs        map[string]Job    `yaml:"jobs"`
	}

	// TriggerSpec decides whether an incoming event starts a run.
	TriggerSpec struct {
		Branches       StringList `yaml:"branches"`       // glob allow-list, applied to push refs
		PathsIgnore    StringList `yaml:"paths-ignore"`   // glob deny-list over changed paths
		ManualDispatch bool       `yaml:"manual-dispatch"`
		SkipMarker     string     `yaml:"skip-marker"` // substring in commit message, defaults to "[skip ci]"
	}

	Job struct {
		Needs       StringList        `yaml:"needs"`
		RunsOn      string            `yaml:"runs-on"` // OS image identifier
		Timeout     Duration          `yaml:"timeout"` // wall-clock budget, zero means server default
		Environment map[string]string `yaml:"environment"`
		Steps       []Step            `yaml:"steps"`
	}

	// Step is either a shell command (`command`) or a composite action
	// reference (`uses` plus `with` inputs). Exactly one of the two must
	// be set.
	Step struct {
		ID              string            `yaml:"id"`
		Name            string            `yaml:"name"`
		Command         string            `yaml:"command"`
		Uses            string            `yaml:"uses"`
		With            map[string]string `yaml:"with"`
		If              string            `yaml:"if"`
		Environment     map[string]string `yaml:"environment"`
		ContinueOnError bool              `yaml:"continue-on-error"`
	}

	StringList []string

	// Duration decodes "5m"-style strings from workflow files.
	Duration time.Duration
)

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

const (
	EventKindPush            string = "push"
	EventKindPullRequest     string = "pull_request_opened"
	EventKindPullRequestSync string = "pull_request_synchronized"
	EventKindManual          string = "manual"
)

// DefaultSkipMarker is honored when a trigger spec does not name its own.
const DefaultSkipMarker = "[skip ci]"

// Event is the inbound signal delivered by the hosting platform. The
// orchestrator only consumes the fields below.
type Event struct {
	Kind          string   `json:"kind"`
	Repo          string   `json:"repo"` // owner/name
	Ref           string   `json:"ref"`  // full ref, e.g. refs/heads/main
	Sha           string   `json:"sha"`
	ChangedPaths  []string `json:"changed_paths"`
	CommitMessage string   `json:"commit_message"`

	// set for pull request events
	ChangeRequest int64  `json:"change_request,omitempty"`
	TargetBranch  string `json:"target_branch,omitempty"`
}

func (e Event) IsPullRequest() bool {
	return e.Kind == EventKindPullRequest || e.Kind == EventKindPullRequestSync
}

func FromFile(name string, contents []byte) (Definition, error) {
	var def Definition

	err := yaml.Unmarshal(contents, &def)
	if err != nil {
		return def, err
	}

	def.Name = name

	return def, nil
}

func (s *Step) IsComposite() bool {
	return s.Uses != ""
}

// DisplayName falls back on the command or action reference when a step
// carries no explicit name.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Command
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {

		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
