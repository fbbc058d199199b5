package store

import (
	"context"
)

type Pipeline struct {
	PipelineID  int64 `param:"pipeline_id"`
	Name        string
	Description string
	// Git repository path
	Repository string
	// Descriptor path within the repository
	DescriptorPath string
	// Pipeline schedule in cron syntax
	Schedule *string
	// Git branch for scheduled runs
	ScheduleBranch *string
	// Scheduled job ID
	ScheduleJobID *string
	// Remote agent; nil hostname means the run executes on this host
	AgentHostname  *string
	AgentUsername  *string
	AgentWorkspace *string
	// AES-encrypted private key for the agent connection
	SSHPrivateKeyHash *string
}

type PipelineWriter interface {
	CreatePipeline(
		ctx context.Context,
		name, description, repository, descriptorPath string,
	) (*Pipeline, error)
	UpdatePipeline(
		ctx context.Context,
		id int64,
		name, description, repository, descriptorPath string,
	) error
	UpdatePipelineAgent(
		ctx context.Context,
		id int64,
		hostname, username, workspace, sshPrivateKeyHash *string,
	) error
	UpdatePipelineSchedule(ctx context.Context, id int64, schedule, branch, jobID *string) error
	UpdatePipelineScheduleJobID(ctx context.Context, id int64, jobID *string) error
	DeletePipeline(ctx context.Context, id int64) error
}

type PipelineReader interface {
	ReadPipelineByID(ctx context.Context, id int64) (*Pipeline, error)
	ReadPipelineByName(ctx context.Context, name string) (*Pipeline, error)
	ListPipelines(ctx context.Context) ([]*Pipeline, error)
	ListScheduledPipelines(ctx context.Context) ([]*Pipeline, error)
}

type PipelineStore interface {
	PipelineWriter
	PipelineReader
}
