package models

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// RunId identifies one instantiation of a workflow definition.
type RunId string

func NewRunId() RunId {
	return RunId(uuid.NewString())
}

// JobId identifies one job within a run.
type JobId struct {
	Run  RunId
	Name string
}

func (j JobId) String() string {
	return fmt.Sprintf("%s-%s", j.Run, normalize(j.Name))
}

func normalize(name string) string {
	normalized := re.ReplaceAllString(name, "-")
	return normalized
}

type RunStatus string

var (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunSuccess   RunStatus = "success"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunFailed, RunCancelled, RunSuccess:
		return true
	}
	return false
}

type JobStatus string

var (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSkipped, JobCancelled:
		return true
	}
	return false
}

type StepStatus string

var (
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// JobResult is the terminal record of one job: its status, the first
// failing step if any, and what the job produced.
type JobResult struct {
	Job      JobId
	Status   JobStatus
	ExitCode int
	Error    string

	// index and name of the first failing step
	FailedStep     int
	FailedStepName string

	ProducedArtifacts []string
	ProducedCaches    []string
}
