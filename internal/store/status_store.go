package store

import (
	"context"
	"time"
)

// PipelineStatus is the persisted terminal history of one pipeline/branch
// pair. LastStatus is the previous run's terminal status; LastNotifiedStatus
// is the status of the last run that actually emitted a notification. The
// change trigger compares against one or the other depending on the
// descriptor's compare mode.
type PipelineStatus struct {
	StatusPipelineID   int64
	Branch             string
	LastStatus         RunStatus
	LastNotifiedStatus *RunStatus
	UpdatedOn          time.Time
}

type PipelineStatusStore interface {
	ReadPipelineStatus(ctx context.Context, pipelineID int64, branch string) (*PipelineStatus, error)
	UpsertPipelineStatus(
		ctx context.Context,
		pipelineID int64,
		branch string,
		last RunStatus,
		notified bool,
	) error
}
