package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type PipelineStatusSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewPipelineStatusSQLStore(rdb, rwdb *sql.DB) *PipelineStatusSQLStore {
	return &PipelineStatusSQLStore{rdb, rwdb}
}

func (store *PipelineStatusSQLStore) ReadPipelineStatus(
	ctx context.Context,
	pipelineID int64,
	branch string,
) (*PipelineStatus, error) {
	ps := new(PipelineStatus)
	query := `select * from pipeline_status
	where status_pipeline_id = $1 and branch = $2`
	if err := sqlscan.Get(ctx, store.rdb, ps, query, pipelineID, branch); err != nil {
		return nil, err
	}
	return ps, nil
}

// UpsertPipelineStatus records a run's terminal status. When the run was
// notified the last notified status advances with it; otherwise the prior
// notified value is preserved.
func (store *PipelineStatusSQLStore) UpsertPipelineStatus(
	ctx context.Context,
	pipelineID int64,
	branch string,
	last RunStatus,
	notified bool,
) error {
	existing, err := store.ReadPipelineStatus(ctx, pipelineID, branch)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var lastNotified *RunStatus
	if notified {
		lastNotified = &last
	} else if existing != nil {
		lastNotified = existing.LastNotifiedStatus
	}

	if existing == nil {
		query := `insert into pipeline_status (
			status_pipeline_id,
			branch,
			last_status,
			last_notified_status
		)
		values ($1, $2, $3, $4)`
		_, err := store.rwdb.ExecContext(ctx, query, pipelineID, branch, last, lastNotified)
		return err
	}

	query := `update pipeline_status
	set last_status = $1,
		last_notified_status = $2,
		updated_on = CURRENT_TIMESTAMP
	where status_pipeline_id = $3 and branch = $4`
	_, err = store.rwdb.ExecContext(ctx, query, last, lastNotified, pipelineID, branch)
	return err
}
