package store

import (
	"time"
)

type RunStatus string

const (
	StatusQueued  RunStatus = "queued"
	StatusRunning RunStatus = "running"
	StatusSkipped RunStatus = "skipped"
	StatusFailed  RunStatus = "failed"
	StatusPassed  RunStatus = "passed"
)

// Terminal reports whether a status ends a run. Exactly one terminal
// status is recorded per run and fed to the notifier.
func (s RunStatus) Terminal() bool {
	return s == StatusSkipped || s == StatusFailed || s == StatusPassed
}

type Run struct {
	RunID            int64 `param:"run_id"`
	RunPipelineID    int64
	Branch           string
	WorkingDirectory *string
	Output           *string
	Artifacts        *string
	Status           RunStatus
	FailedStepIndex  *int64
	ExitCode         *int64
	CreatedOn        time.Time
	StartedOn        *time.Time
	EndedOn          *time.Time

	PipelineName string
}
