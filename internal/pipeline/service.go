package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/notify"
	"github.com/lineci/lineci/internal/security"
	"github.com/lineci/lineci/internal/store"
	"github.com/lineci/lineci/internal/util"
)

// RunData is everything a queue worker needs to execute one run.
type RunData struct {
	Pipeline      *store.Pipeline
	SSHPrivateKey []byte
}

func (rd *RunData) Remote() bool {
	return rd.Pipeline.AgentHostname != nil && *rd.Pipeline.AgentHostname != ""
}

type Service struct {
	pipelineStore store.PipelineStore
	runStore      store.RunStore
	statusStore   store.PipelineStatusStore
	scheduler     gocron.Scheduler
	aesEncrypter  security.Encrypter
	notifier      *notify.Notifier
	smtpConfig    notify.SMTPConfig
	workspace     string

	mu     sync.Mutex
	queues map[int64]*RunQueue
}

func NewService(
	pipelineStore store.PipelineStore,
	runStore store.RunStore,
	statusStore store.PipelineStatusStore,
	scheduler gocron.Scheduler,
	aesEncrypter security.Encrypter,
	smtpConfig notify.SMTPConfig,
	workspace string,
) *Service {
	return &Service{
		pipelineStore: pipelineStore,
		runStore:      runStore,
		statusStore:   statusStore,
		scheduler:     scheduler,
		aesEncrypter:  aesEncrypter,
		notifier:      notify.NewNotifier(statusStore),
		smtpConfig:    smtpConfig,
		workspace:     workspace,
		queues:        make(map[int64]*RunQueue),
	}
}

func (s *Service) InitializeRunQueues(ctx context.Context, maxRuns int64) error {
	pipelines, err := s.ListPipelines(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, len(pipelines))
	for i, p := range pipelines {
		ids[i] = p.PipelineID
	}

	s.AddRunQueues(ids, maxRuns)
	s.StartRunQueues()
	return nil
}

func (s *Service) CreatePipeline(
	ctx context.Context,
	name, description, repository, descriptorPath string,
	maxRuns int64,
) (*store.Pipeline, error) {
	p, err := s.pipelineStore.CreatePipeline(ctx, name, description, repository, descriptorPath)
	if err != nil {
		return nil, err
	}
	s.AddRunQueue(p.PipelineID, maxRuns)
	if err := s.StartRunQueue(p.PipelineID); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) GetPipelineByID(ctx context.Context, id int64) (*store.Pipeline, error) {
	return s.pipelineStore.ReadPipelineByID(ctx, id)
}

func (s *Service) ListPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	pipelines, err := s.pipelineStore.ListPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return pipelines, nil
}

func (s *Service) ListScheduledPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	pipelines, err := s.pipelineStore.ListScheduledPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return pipelines, nil
}

func (s *Service) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, repository, descriptorPath string,
) error {
	return s.pipelineStore.UpdatePipeline(ctx, id, name, description, repository, descriptorPath)
}

// UpdatePipelineAgent stores the remote agent coordinates; the private key
// is encrypted before it touches the database.
func (s *Service) UpdatePipelineAgent(
	ctx context.Context,
	id int64,
	hostname, username, workspace *string,
	privateKey []byte,
) error {
	var keyHash *string
	if len(privateKey) > 0 {
		keyHash = util.AsPtr(s.aesEncrypter.EncryptAES(string(privateKey)))
	}
	return s.pipelineStore.UpdatePipelineAgent(ctx, id, hostname, username, workspace, keyHash)
}

func (s *Service) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, branch *string,
) error {
	p, err := s.pipelineStore.ReadPipelineByID(ctx, id)
	if err != nil {
		return err
	}

	if schedule == nil {
		if p.ScheduleJobID != nil && s.scheduler != nil {
			if err := s.scheduler.RemoveJob(uuid.MustParse(*p.ScheduleJobID)); err != nil {
				log.Println("unable to remove existing job:", err)
			}
		}
		return s.pipelineStore.UpdatePipelineSchedule(ctx, p.PipelineID, nil, nil, nil)
	}

	scheduleBranch := internal.DefaultBranch
	if branch != nil {
		scheduleBranch = *branch
	}
	jobID, err := s.SchedulePipelineRun(p.PipelineID, *schedule, scheduleBranch)
	if err != nil {
		return err
	}
	return s.pipelineStore.UpdatePipelineSchedule(ctx, p.PipelineID, schedule, util.AsPtr(scheduleBranch), jobID)
}

func (s *Service) UpdatePipelineScheduleJobID(
	ctx context.Context,
	id int64,
	jobID *string,
) error {
	return s.pipelineStore.UpdatePipelineScheduleJobID(ctx, id, jobID)
}

func (s *Service) DeletePipeline(ctx context.Context, id int64) error {
	if err := s.pipelineStore.DeletePipeline(ctx, id); err != nil {
		return err
	}
	s.RemoveRunQueue(id)
	return nil
}

// GetRunData loads the pipeline and decrypts its agent key, if any.
func (s *Service) GetRunData(ctx context.Context, pipelineID int64) (*RunData, error) {
	p, err := s.pipelineStore.ReadPipelineByID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	rd := &RunData{Pipeline: p}
	if p.SSHPrivateKeyHash != nil {
		privateKey, err := s.aesEncrypter.DecryptAES(*p.SSHPrivateKeyHash)
		if err != nil {
			return nil, err
		}
		rd.SSHPrivateKey = privateKey
	}
	return rd, nil
}

func (s *Service) Workspace() string {
	return s.workspace
}

func (s *Service) CreateRun(
	ctx context.Context,
	pipelineID int64,
	branch string,
) (*store.Run, error) {
	return s.runStore.CreateRun(ctx, pipelineID, branch)
}

func (s *Service) GetRunByID(ctx context.Context, runID int64) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, runID)
}

func (s *Service) UpdateRunStartedOn(
	ctx context.Context,
	runID int64,
	workingDirectory string,
	status store.RunStatus,
	startedOn *time.Time,
) error {
	return s.runStore.UpdateRunStartedOn(ctx, runID, workingDirectory, status, startedOn)
}

func (s *Service) UpdateRunEndedOn(
	ctx context.Context,
	runID int64,
	status store.RunStatus,
	failedStepIndex, exitCode *int64,
	artifacts *string,
	endedOn *time.Time,
) error {
	return s.runStore.UpdateRunEndedOn(
		ctx, runID, status, failedStepIndex, exitCode, artifacts, endedOn,
	)
}

func (s *Service) AppendRunOutput(ctx context.Context, runID int64, out string) error {
	return s.runStore.AppendRunOutput(ctx, runID, out)
}

func (s *Service) DeleteRun(ctx context.Context, runID int64) error {
	return s.runStore.DeleteRun(ctx, runID)
}

func (s *Service) ListPipelineRuns(
	ctx context.Context,
	pipelineID int64,
) ([]store.Run, error) {
	runs, err := s.runStore.ListPipelineRuns(ctx, pipelineID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return runs, nil
}

func (s *Service) ListPipelineRunsPaginated(
	ctx context.Context,
	pipelineID, limit, offset int64,
) ([]store.Run, error) {
	return s.runStore.ListPipelineRunsPaginated(ctx, pipelineID, limit, offset)
}

func (s *Service) GetPipelineRunCount(ctx context.Context, id int64) (int64, error) {
	return s.runStore.CountPipelineRuns(ctx, id)
}

// NotifyRun feeds the terminal result to the notifier exactly once, with
// the channels the run's descriptor asked for. Delivery problems are the
// notifier's to log; they never change the result.
func (s *Service) NotifyRun(
	ctx context.Context,
	rd *RunData,
	branch string,
	result RunResult,
	notifications descriptor.Notifications,
) {
	channels := notify.Channels(notifications, s.smtpConfig)
	msg := notify.Message{
		Pipeline:        rd.Pipeline.Name,
		Branch:          branch,
		Status:          result.Status,
		FailedStep:      result.FailedStep,
		FailedStepIndex: result.FailedStepIndex,
		ExitCode:        result.ExitCode,
	}
	if err := s.notifier.Notify(
		ctx,
		rd.Pipeline.PipelineID,
		msg,
		notifications,
		channels,
	); err != nil {
		log.Println("err recording run status for notifications:", err)
	}
}

func (s *Service) SchedulePipelineRun(
	pipelineID int64,
	schedule, branch string,
) (*string, error) {
	if s.scheduler == nil {
		return nil, nil
	}
	job, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if r, err := s.CreateRun(
				context.Background(),
				pipelineID,
				branch,
			); err == nil {
				if err := s.EnqueueRun(r); err != nil {
					log.Println("queue is full")
					return
				}
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("error scheduling pipeline job: %w", err)
	}
	return util.AsPtr(job.ID().String()), nil
}

// SchedulePipelines re-registers the cron jobs of every pipeline that has
// a stored schedule. Job IDs do not survive restarts, so each pipeline row
// gets its fresh ID written back.
func (s *Service) SchedulePipelines(ctx context.Context) error {
	pipelines, err := s.ListScheduledPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		branch := internal.DefaultBranch
		if p.ScheduleBranch != nil {
			branch = *p.ScheduleBranch
		}
		jobID, err := s.SchedulePipelineRun(p.PipelineID, *p.Schedule, branch)
		if err != nil {
			log.Println("err scheduling pipeline run:", err)
			continue
		}
		if err := s.UpdatePipelineScheduleJobID(ctx, p.PipelineID, jobID); err != nil {
			log.Println("err updating pipeline schedule job id:", err)
		}
	}
	return nil
}

func (s *Service) AddRunQueues(ids []int64, maxRuns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.queues[id] = NewRunQueue(s, maxRuns)
	}
}

func (s *Service) StartRunQueues() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queues {
		go s.queues[i].Run()
	}
}

func (s *Service) AddRunQueue(id int64, maxRuns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[id] = NewRunQueue(s, maxRuns)
}

func (s *Service) StartRunQueue(id int64) error {
	rq, ok := s.GetRunQueue(id)
	if !ok {
		return fmt.Errorf("run queue for pipeline %d does not exist", id)
	}
	go rq.Run()
	return nil
}

func (s *Service) GetRunQueue(id int64) (*RunQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rq, ok := s.queues[id]
	return rq, ok
}

func (s *Service) RemoveRunQueue(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, id)
}

func (s *Service) EnqueueRun(r *store.Run) error {
	rq, ok := s.GetRunQueue(r.RunPipelineID)
	if !ok {
		return fmt.Errorf("run queue for pipeline %d does not exist", r.RunPipelineID)
	}
	return rq.Enqueue(r)
}

func (s *Service) ShutdownAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wg sync.WaitGroup
	for _, rq := range s.queues {
		wg.Go(func() {
			rq.Shutdown()
		})
	}
	wg.Wait()
}
