package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
)

type MockQueueService struct {
	mock.Mock
}

func (m *MockQueueService) GetRunData(ctx context.Context, pipelineID int64) (*RunData, error) {
	args := m.Called(ctx, pipelineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunData), args.Error(1)
}

func (m *MockQueueService) GetRunByID(ctx context.Context, runID int64) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockQueueService) UpdateRunStartedOn(
	ctx context.Context,
	runID int64,
	workingDirectory string,
	status store.RunStatus,
	startedOn *time.Time,
) error {
	args := m.Called(ctx, runID, workingDirectory, status, startedOn)
	return args.Error(0)
}

func (m *MockQueueService) UpdateRunEndedOn(
	ctx context.Context,
	runID int64,
	status store.RunStatus,
	failedStepIndex, exitCode *int64,
	artifacts *string,
	endedOn *time.Time,
) error {
	args := m.Called(ctx, runID, status, failedStepIndex, exitCode, artifacts, endedOn)
	return args.Error(0)
}

func (m *MockQueueService) AppendRunOutput(ctx context.Context, runID int64, out string) error {
	args := m.Called(ctx, runID, out)
	return args.Error(0)
}

func (m *MockQueueService) NotifyRun(
	ctx context.Context,
	rd *RunData,
	branch string,
	result RunResult,
	notifications descriptor.Notifications,
) {
	m.Called(ctx, rd, branch, result, notifications)
}

func (m *MockQueueService) Workspace() string {
	args := m.Called()
	return args.String(0)
}

func TestRunQueue_Enqueue(t *testing.T) {
	t.Run("success - runs accepted up to capacity", func(t *testing.T) {
		// arrange
		rq := NewRunQueue(new(MockQueueService), 2)

		// act
		err1 := rq.Enqueue(&store.Run{RunID: 1})
		err2 := rq.Enqueue(&store.Run{RunID: 2})
		err3 := rq.Enqueue(&store.Run{RunID: 3})

		// assert
		assert.NoError(t, err1)
		assert.NoError(t, err2)
		assert.Error(t, err3)
		assert.ErrorAs(t, err3, new(*ErrRunQueueFull))
	})
}

func TestRunQueue_Run(t *testing.T) {
	t.Run("failure - unresolvable run marked failed", func(t *testing.T) {
		// arrange
		svc := new(MockQueueService)
		svc.On("GetRunData", mock.Anything, int64(1)).Return(nil, assert.AnError)
		svc.On("AppendRunOutput", mock.Anything, int64(10), mock.Anything).Return(nil)
		ended := make(chan struct{})
		svc.On(
			"UpdateRunEndedOn",
			mock.Anything, int64(10), store.StatusFailed,
			(*int64)(nil), (*int64)(nil), (*string)(nil), mock.Anything,
		).Run(func(args mock.Arguments) {
			close(ended)
		}).Return(nil)

		rq := NewRunQueue(svc, 1)
		go rq.Run()
		defer rq.Shutdown()

		// act
		err := rq.Enqueue(&store.Run{RunID: 10, RunPipelineID: 1, Branch: "main"})

		// assert
		assert.NoError(t, err)
		select {
		case <-ended:
		case <-time.After(5 * time.Second):
			t.Fatal("run was not marked failed")
		}
		svc.AssertNotCalled(
			t, "NotifyRun",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		)
	})
}

func TestRunQueue_Shutdown(t *testing.T) {
	t.Run("success - shutdown is idempotent", func(t *testing.T) {
		// arrange
		rq := NewRunQueue(new(MockQueueService), 1)
		go rq.Run()

		// act & assert: no panic on repeated shutdown
		rq.Shutdown()
		rq.Shutdown()
	})
}

func TestRepoDirName(t *testing.T) {
	t.Run("success - directory derived from repository url", func(t *testing.T) {
		assert.Equal(t, "numba", repoDirName("git@github.com:numba/numba.git"))
		assert.Equal(t, "numba", repoDirName("https://github.com/numba/numba.git"))
		assert.Equal(t, "local-repo", repoDirName("/srv/git/local-repo"))
	})
}
