package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type PipelineSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewPipelineSQLStore(rdb, rwdb *sql.DB) *PipelineSQLStore {
	return &PipelineSQLStore{rdb, rwdb}
}

func (store *PipelineSQLStore) CreatePipeline(
	ctx context.Context,
	name, description, repository, descriptorPath string,
) (*Pipeline, error) {
	p := &Pipeline{
		Name:           name,
		Description:    description,
		Repository:     repository,
		DescriptorPath: descriptorPath,
	}
	query := `insert into pipelines (
		name,
		description,
		repository,
		descriptor_path
	)
	values ($1, $2, $3, $4)
	returning pipeline_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, p, query,
		p.Name,
		p.Description,
		p.Repository,
		p.DescriptorPath,
	); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *PipelineSQLStore) ReadPipelineByID(
	ctx context.Context,
	id int64,
) (*Pipeline, error) {
	p := &Pipeline{PipelineID: id}
	query := "select * from pipelines where pipeline_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, p, query, p.PipelineID); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *PipelineSQLStore) ReadPipelineByName(
	ctx context.Context,
	name string,
) (*Pipeline, error) {
	p := &Pipeline{}
	query := "select * from pipelines where name = $1"
	if err := sqlscan.Get(ctx, store.rdb, p, query, name); err != nil {
		return nil, err
	}
	return p, nil
}

func (store *PipelineSQLStore) ListPipelines(ctx context.Context) ([]*Pipeline, error) {
	query := "select * from pipelines order by pipeline_id"
	pipelines := make([]*Pipeline, 0)
	err := sqlscan.Select(ctx, store.rdb, &pipelines, query)
	return pipelines, err
}

func (store *PipelineSQLStore) ListScheduledPipelines(ctx context.Context) ([]*Pipeline, error) {
	query := "select * from pipelines where schedule is not null order by pipeline_id"
	pipelines := make([]*Pipeline, 0)
	err := sqlscan.Select(ctx, store.rdb, &pipelines, query)
	return pipelines, err
}

func (store *PipelineSQLStore) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, repository, descriptorPath string,
) error {
	query := `update pipelines
	set name = $1,
		description = $2,
		repository = $3,
		descriptor_path = $4
	where pipeline_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query, name, description, repository, descriptorPath, id,
	)
	return err
}

func (store *PipelineSQLStore) UpdatePipelineAgent(
	ctx context.Context,
	id int64,
	hostname, username, workspace, sshPrivateKeyHash *string,
) error {
	query := `update pipelines
	set agent_hostname = $1,
		agent_username = $2,
		agent_workspace = $3,
		ssh_private_key_hash = $4
	where pipeline_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query, hostname, username, workspace, sshPrivateKeyHash, id,
	)
	return err
}

func (store *PipelineSQLStore) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, branch, jobID *string,
) error {
	query := `update pipelines
	set schedule = $1,
		schedule_branch = $2,
		schedule_job_id = $3
	where pipeline_id = $4`
	_, err := store.rwdb.ExecContext(ctx, query, schedule, branch, jobID, id)
	return err
}

func (store *PipelineSQLStore) UpdatePipelineScheduleJobID(
	ctx context.Context,
	id int64,
	jobID *string,
) error {
	query := `update pipelines
	set schedule_job_id = $1
	where pipeline_id = $2`
	_, err := store.rwdb.ExecContext(ctx, query, jobID, id)
	return err
}

func (store *PipelineSQLStore) DeletePipeline(ctx context.Context, id int64) error {
	query := "delete from pipelines where pipeline_id = $1"
	_, err := store.rwdb.ExecContext(ctx, query, id)
	return err
}
