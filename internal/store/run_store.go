package store

import (
	"context"
	"time"
)

type RunWriter interface {
	CreateRun(ctx context.Context, pipelineID int64, branch string) (*Run, error)
	UpdateRunStartedOn(
		ctx context.Context,
		id int64,
		workingDirectory string,
		status RunStatus,
		startedOn *time.Time,
	) error
	UpdateRunEndedOn(
		ctx context.Context,
		id int64,
		status RunStatus,
		failedStepIndex, exitCode *int64,
		artifacts *string,
		endedOn *time.Time,
	) error
	AppendRunOutput(ctx context.Context, id int64, out string) error
	DeleteRun(ctx context.Context, id int64) error
}

type RunReader interface {
	ReadRunByID(ctx context.Context, id int64) (*Run, error)
	ListPipelineRuns(ctx context.Context, pipelineID int64) ([]Run, error)
	ListPipelineRunsPaginated(ctx context.Context, pipelineID, limit, offset int64) ([]Run, error)
	CountPipelineRuns(ctx context.Context, pipelineID int64) (int64, error)
}

type RunStore interface {
	RunWriter
	RunReader
}
