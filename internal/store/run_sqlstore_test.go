package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lineci/lineci/internal/util"
)

func generateRun(t *testing.T, pipelineID int64, branch string) *Run {
	t.Helper()
	r, err := runStore.CreateRun(context.Background(), pipelineID, branch)
	assert.NoError(t, err)
	return r
}

func TestRunSQLStore_CreateRun(t *testing.T) {
	t.Run("success - run created as queued", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "create run")

		// act
		r, err := runStore.CreateRun(context.Background(), p.PipelineID, "main")

		// assert
		assert.NoError(t, err)
		assert.NotEqual(t, 0, r.RunID)
		assert.Equal(t, p.PipelineID, r.RunPipelineID)
		assert.Equal(t, "main", r.Branch)
		assert.Equal(t, StatusQueued, r.Status)
		assert.False(t, r.CreatedOn.IsZero())
	})
	t.Run("failure - pipeline does not exist", func(t *testing.T) {
		// act
		r, err := runStore.CreateRun(context.Background(), 99999, "main")

		// assert
		assert.Error(t, err)
		assert.Nil(t, r)
	})
}

func TestRunSQLStore_UpdateRunStartedOn(t *testing.T) {
	t.Run("success - run marked running", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "update run started on")
		r := generateRun(t, p.PipelineID, "main")
		startedOn := time.Now().UTC()

		// act
		updateErr := runStore.UpdateRunStartedOn(
			context.Background(), r.RunID, "workspace/20240101_000000000", StatusRunning, &startedOn,
		)
		updated, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, updateErr)
		assert.NoError(t, readErr)
		assert.Equal(t, StatusRunning, updated.Status)
		assert.Equal(t, "workspace/20240101_000000000", *updated.WorkingDirectory)
		assert.NotNil(t, updated.StartedOn)
	})
}

func TestRunSQLStore_UpdateRunEndedOn(t *testing.T) {
	t.Run("success - passed run has no failure columns", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "update run ended on passed")
		r := generateRun(t, p.PipelineID, "main")
		endedOn := time.Now().UTC()

		// act
		updateErr := runStore.UpdateRunEndedOn(
			context.Background(), r.RunID, StatusPassed, nil, nil, nil, &endedOn,
		)
		updated, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, updateErr)
		assert.NoError(t, readErr)
		assert.Equal(t, StatusPassed, updated.Status)
		assert.Nil(t, updated.FailedStepIndex)
		assert.Nil(t, updated.ExitCode)
		assert.NotNil(t, updated.EndedOn)
	})
	t.Run("success - failed run records step and exit code", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "update run ended on failed")
		r := generateRun(t, p.PipelineID, "main")
		endedOn := time.Now().UTC()

		// act
		updateErr := runStore.UpdateRunEndedOn(
			context.Background(),
			r.RunID,
			StatusFailed,
			util.AsPtr(int64(2)),
			util.AsPtr(int64(127)),
			nil,
			&endedOn,
		)
		updated, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, updateErr)
		assert.NoError(t, readErr)
		assert.Equal(t, StatusFailed, updated.Status)
		assert.Equal(t, int64(2), *updated.FailedStepIndex)
		assert.Equal(t, int64(127), *updated.ExitCode)
	})
}

func TestRunSQLStore_AppendRunOutput(t *testing.T) {
	t.Run("success - output accumulates in order", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "append run output")
		r := generateRun(t, p.PipelineID, "main")

		// act
		err1 := runStore.AppendRunOutput(context.Background(), r.RunID, "line one\n")
		err2 := runStore.AppendRunOutput(context.Background(), r.RunID, "line two\n")
		updated, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, err1)
		assert.NoError(t, err2)
		assert.NoError(t, readErr)
		assert.Equal(t, "line one\nline two\n", *updated.Output)
	})
	t.Run("failure - run does not exist", func(t *testing.T) {
		// act
		err := runStore.AppendRunOutput(context.Background(), 99999, "orphan output\n")

		// assert
		assert.Error(t, err)
		assert.True(t, errors.Is(err, sql.ErrNoRows))
	})
}

func TestRunSQLStore_ListPipelineRunsPaginated(t *testing.T) {
	t.Run("success - newest runs first with pipeline name", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "list runs paginated")
		for i := range 5 {
			generateRun(t, p.PipelineID, fmt.Sprintf("branch-%d", i))
		}

		// act
		runs, err := runStore.ListPipelineRunsPaginated(context.Background(), p.PipelineID, 3, 0)
		count, countErr := runStore.CountPipelineRuns(context.Background(), p.PipelineID)

		// assert
		assert.NoError(t, err)
		assert.Len(t, runs, 3)
		for _, r := range runs {
			assert.Equal(t, p.Name, r.PipelineName)
		}
		assert.NoError(t, countErr)
		assert.Equal(t, int64(5), count)
	})
	t.Run("success - offset past the end returns empty", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "list runs paginated empty")

		// act
		runs, err := runStore.ListPipelineRunsPaginated(context.Background(), p.PipelineID, 10, 100)

		// assert
		assert.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestRunSQLStore_DeleteRun(t *testing.T) {
	t.Run("success - run is deleted", func(t *testing.T) {
		// arrange
		p := generatePipeline(t, "delete run")
		r := generateRun(t, p.PipelineID, "main")

		// act
		deleteErr := runStore.DeleteRun(context.Background(), r.RunID)
		deleted, readErr := runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		assert.NoError(t, deleteErr)
		assert.True(t, errors.Is(readErr, sql.ErrNoRows))
		assert.Nil(t, deleted)
	})
}
