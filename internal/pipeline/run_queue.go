package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/store"
	"github.com/lineci/lineci/internal/util"
)

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

// PipelineServicer is the slice of the service a queue worker needs.
type PipelineServicer interface {
	GetRunData(ctx context.Context, pipelineID int64) (*RunData, error)
	GetRunByID(ctx context.Context, runID int64) (*store.Run, error)
	UpdateRunStartedOn(
		ctx context.Context,
		runID int64,
		workingDirectory string,
		status store.RunStatus,
		startedOn *time.Time,
	) error
	UpdateRunEndedOn(
		ctx context.Context,
		runID int64,
		status store.RunStatus,
		failedStepIndex, exitCode *int64,
		artifacts *string,
		endedOn *time.Time,
	) error
	AppendRunOutput(ctx context.Context, runID int64, out string) error
	NotifyRun(
		ctx context.Context,
		rd *RunData,
		branch string,
		result RunResult,
		notifications descriptor.Notifications,
	)
	Workspace() string
}

// RunQueue serializes the runs of one pipeline. Runs for different
// pipelines are independent; within a queue at most one run executes at a
// time, so each run's environment context and working directory have a
// single writer.
type RunQueue struct {
	pipelineService PipelineServicer

	queue chan *store.Run
	done  chan struct{}

	outputCh chan string
	mu       sync.Mutex
}

func NewRunQueue(pipelineService PipelineServicer, maxRuns int64) *RunQueue {
	return &RunQueue{
		pipelineService: pipelineService,
		queue:           make(chan *store.Run, maxRuns),
		done:            make(chan struct{}),
	}
}

func (rq *RunQueue) Enqueue(r *store.Run) error {
	select {
	case rq.queue <- r:
		return nil
	default:
		return NewErrRunQueueFull()
	}
}

func (rq *RunQueue) Run() {
	for {
		select {
		case run := <-rq.queue:
			rq.outputCh = make(chan string)

			outputDone := make(chan struct{})
			go rq.handleOutput(run.RunID, outputDone)

			if err := rq.processRun(context.Background(), run); err != nil {
				endedOn := time.Now().UTC()
				if sqlErr := rq.pipelineService.UpdateRunEndedOn(
					context.Background(),
					run.RunID,
					store.StatusFailed,
					nil, nil, nil,
					&endedOn,
				); sqlErr != nil {
					log.Println("err updating run status to failed:", errors.Join(err, sqlErr))
				}
				log.Println("err processing pipeline run:", err)
				rq.outputCh <- fmt.Sprintf("err processing pipeline run: %+v\n", err)
			}

			close(rq.outputCh)
			<-outputDone
		case <-rq.done:
			close(rq.queue)
			return
		}
	}
}

func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
	}
}

func (rq *RunQueue) handleOutput(runID int64, done chan<- struct{}) {
	for out := range rq.outputCh {
		if err := rq.pipelineService.AppendRunOutput(context.Background(), runID, out); err != nil {
			log.Printf("err appending run output: %+v\n", err)
		}
	}
	close(done)
}

func (rq *RunQueue) processRun(ctx context.Context, run *store.Run) error {
	rd, err := rq.pipelineService.GetRunData(ctx, run.RunPipelineID)
	if err != nil {
		rq.outputCh <- fmt.Sprintf("err getting pipeline run data: %+v\n", err)
		return err
	}
	workdir := time.Now().UTC().Format(internal.RunDirLayout)

	startedOn := time.Now().UTC()
	if err := rq.pipelineService.UpdateRunStartedOn(
		ctx, run.RunID, workdir, store.StatusRunning, &startedOn,
	); err != nil {
		rq.outputCh <- "err updating run started on\n"
		return err
	}

	runner, err := rq.prepareWorkspace(rd, workdir, run.Branch)
	if err != nil {
		rq.outputCh <- fmt.Sprintf("err preparing workspace: %+v\n", err)
		return err
	}
	defer runner.Close()

	data, err := runner.ReadFile(rd.Pipeline.DescriptorPath)
	if err != nil {
		rq.outputCh <- fmt.Sprintf("err reading pipeline descriptor: %+v\n", err)
		return err
	}
	d, err := descriptor.Parse(data)
	if err != nil {
		// A malformed descriptor aborts the run before any step executes
		// and is not a reportable build outcome.
		rq.outputCh <- fmt.Sprintf("%v\n", err)
		return err
	}

	rq.outputCh <- "Parsed pipeline descriptor. Starting pipeline execution...\n"

	seq := NewSequencer(runner, rq.outputCh)
	result := seq.Run(d, run.Branch)

	var artifacts *string
	if result.Status == store.StatusPassed && d.Script.Artifacts != "" {
		if dir, err := rq.collectArtifacts(runner, run.RunID, d.Script.Artifacts); err != nil {
			rq.outputCh <- fmt.Sprintf("err collecting artifacts: %+v\n", err)
		} else {
			artifacts = &dir
		}
	}

	endedOn := time.Now().UTC()
	var failedStepIndex, exitCode *int64
	if result.Status == store.StatusFailed {
		if result.FailedStepIndex > 0 {
			failedStepIndex = util.AsPtr(int64(result.FailedStepIndex))
		}
		exitCode = util.AsPtr(int64(result.ExitCode))
	}
	if err := rq.pipelineService.UpdateRunEndedOn(
		ctx, run.RunID, result.Status, failedStepIndex, exitCode, artifacts, &endedOn,
	); err != nil {
		rq.outputCh <- "err updating run ended on\n"
		return err
	}

	rq.pipelineService.NotifyRun(ctx, rd, run.Branch, result, d.Notifications)
	return nil
}

// prepareWorkspace creates the run directory, clones the repository into
// it and returns a runner rooted at the clone. A failed clone is an
// ordinary step failure surfaced as an error.
func (rq *RunQueue) prepareWorkspace(
	rd *RunData,
	workdir, branch string,
) (CommandRunner, error) {
	repoDir := repoDirName(rd.Pipeline.Repository)
	cloneStep := descriptor.Step{
		Name:    "clone repository",
		Command: "git",
		Args:    []string{"clone", "-b", branch, rd.Pipeline.Repository},
	}

	if rd.Remote() {
		workspace := "."
		if rd.Pipeline.AgentWorkspace != nil && *rd.Pipeline.AgentWorkspace != "" {
			workspace = *rd.Pipeline.AgentWorkspace
		}
		var username string
		if rd.Pipeline.AgentUsername != nil {
			username = *rd.Pipeline.AgentUsername
		}
		runner, err := NewSSHRunner(
			username,
			*rd.Pipeline.AgentHostname,
			rd.SSHPrivateKey,
			"",
		)
		if err != nil {
			return nil, err
		}
		rq.outputCh <- fmt.Sprintf("SSH connected to %s\n", *rd.Pipeline.AgentHostname)

		runDir := workspace + "/" + workdir
		mkdirStep := descriptor.Step{
			Name:    "create run directory",
			Command: "mkdir",
			Args:    []string{"-p", runDir},
		}
		if err := rq.runPrepStep(runner, mkdirStep); err != nil {
			runner.Close()
			return nil, err
		}
		runner.SetBaseDir(runDir)
		if err := rq.runPrepStep(runner, cloneStep); err != nil {
			runner.Close()
			return nil, err
		}
		rq.outputCh <- fmt.Sprintf("Cloned repository %s\n", rd.Pipeline.Repository)
		runner.SetBaseDir(runDir + "/" + repoDir)
		return runner, nil
	}

	runDir := filepath.Join(rq.pipelineService.Workspace(), workdir)
	if err := os.MkdirAll(runDir, os.ModePerm); err != nil {
		return nil, err
	}
	runner := NewLocalRunner(runDir)
	if err := rq.runPrepStep(runner, cloneStep); err != nil {
		return nil, err
	}
	rq.outputCh <- fmt.Sprintf("Cloned repository %s\n", rd.Pipeline.Repository)
	runner.BaseDir = filepath.Join(runDir, repoDir)
	return runner, nil
}

func (rq *RunQueue) runPrepStep(runner CommandRunner, step descriptor.Step) error {
	code, err := runner.RunStep(step, nil, rq.outputCh)
	if err != nil {
		return fmt.Errorf("%s: %w", step.Name, err)
	}
	if code != 0 {
		return fmt.Errorf("%s exited with code %d", step.Name, code)
	}
	return nil
}

func repoDirName(repository string) string {
	repoDir := repository[strings.LastIndex(repository, "/")+1:]
	return strings.TrimSuffix(repoDir, ".git")
}
