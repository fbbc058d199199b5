package handler

type PipelineParams struct {
	PipelineID     int64   `json:"pipeline_id"     param:"pipeline_id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Repository     string  `json:"repository"`
	DescriptorPath string  `json:"descriptor_path"`
	Schedule       *string `json:"schedule"`
	ScheduleBranch *string `json:"schedule_branch"`
}

type AgentParams struct {
	PipelineID    int64   `json:"pipeline_id" param:"pipeline_id"`
	Hostname      *string `json:"hostname"`
	Username      *string `json:"username"`
	Workspace     *string `json:"workspace"`
	SSHPrivateKey string  `json:"ssh_private_key"`
}

type RunParams struct {
	PipelineID int64  `param:"pipeline_id"`
	RunID      int64  `param:"run_id"`
	Branch     string `param:"branch"      json:"branch"`
}

type ListRunsParams struct {
	PipelineID int64 `param:"pipeline_id"`
	Page       int64 `                    query:"page"`
}
