package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/store"
)

const maxRunsPerPage int64 = 10

func SetupPipelineRoutes(
	g *echo.Group,
	pipelineService PipelineServicer,
	webhookKey string,
	queueSize int64,
) {
	h := NewPipelineHandler(pipelineService, queueSize)
	g.POST(
		"/pipelines/:pipeline_id/runs/webhook-trigger/:branch",
		h.PostPipelineRunWebhookTrigger,
		WebhookKeyMiddleware(webhookKey),
	)
	g.GET("/pipelines", h.GetPipelines)
	g.POST("/pipelines", h.PostPipeline)
	g.GET("/pipelines/:pipeline_id", h.GetPipeline)
	g.PATCH("/pipelines/:pipeline_id", h.PatchPipeline)
	g.PATCH("/pipelines/:pipeline_id/agent", h.PatchPipelineAgent)
	g.PATCH("/pipelines/:pipeline_id/schedule", h.PatchPipelineSchedule)
	g.DELETE("/pipelines/:pipeline_id", h.DeletePipeline)
	g.POST("/pipelines/:pipeline_id/runs", h.PostPipelineRun)
	g.GET("/pipelines/:pipeline_id/runs", h.GetPipelineRuns)
	g.GET("/pipelines/:pipeline_id/runs/:run_id", h.GetPipelineRun)
	g.GET("/pipelines/:pipeline_id/runs/:run_id/output", h.GetPipelineRunOutput)
}

type PipelineWriter interface {
	CreatePipeline(
		ctx context.Context,
		name, description, repository, descriptorPath string,
		maxRuns int64,
	) (*store.Pipeline, error)
	UpdatePipeline(
		ctx context.Context,
		id int64,
		name, description, repository, descriptorPath string,
	) error
	UpdatePipelineAgent(
		ctx context.Context,
		id int64,
		hostname, username, workspace *string,
		privateKey []byte,
	) error
	UpdatePipelineSchedule(ctx context.Context, id int64, schedule, branch *string) error
	DeletePipeline(ctx context.Context, id int64) error
}

type PipelineReader interface {
	GetPipelineByID(ctx context.Context, id int64) (*store.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*store.Pipeline, error)
}

type RunServicer interface {
	CreateRun(ctx context.Context, pipelineID int64, branch string) (*store.Run, error)
	GetRunByID(ctx context.Context, runID int64) (*store.Run, error)
	ListPipelineRunsPaginated(ctx context.Context, id, limit, offset int64) ([]store.Run, error)
	GetPipelineRunCount(ctx context.Context, id int64) (int64, error)
	EnqueueRun(run *store.Run) error
}

type PipelineServicer interface {
	PipelineWriter
	PipelineReader
	RunServicer
}

type PipelineHandler struct {
	pipelineService PipelineServicer
	queueSize       int64
}

func NewPipelineHandler(pipelineService PipelineServicer, queueSize int64) *PipelineHandler {
	return &PipelineHandler{pipelineService: pipelineService, queueSize: queueSize}
}

func (h *PipelineHandler) GetPipelines(c echo.Context) error {
	pipelines, err := h.pipelineService.ListPipelines(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to list pipelines",
		).WithInternal(err)
	}
	return c.JSON(http.StatusOK, pipelines)
}

func (h *PipelineHandler) PostPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline data")
	}
	if pp.Name == "" || pp.Repository == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and repository are required")
	}
	if pp.DescriptorPath == "" {
		pp.DescriptorPath = internal.DefaultDescriptorPath
	}

	p, err := h.pipelineService.CreatePipeline(
		c.Request().Context(),
		pp.Name,
		pp.Description,
		pp.Repository,
		pp.DescriptorPath,
		h.queueSize,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return echo.NewHTTPError(
				http.StatusConflict, "pipeline name is already in use",
			).WithInternal(err)
		}
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to create pipeline",
		).WithInternal(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *PipelineHandler) GetPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline data")
	}
	p, err := h.pipelineService.GetPipelineByID(c.Request().Context(), pp.PipelineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "pipeline not found")
		}
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to read pipeline",
		).WithInternal(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *PipelineHandler) PatchPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline data")
	}
	if err := h.pipelineService.UpdatePipeline(
		c.Request().Context(),
		pp.PipelineID,
		pp.Name,
		pp.Description,
		pp.Repository,
		pp.DescriptorPath,
	); err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to update pipeline",
		).WithInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PatchPipelineAgent(c echo.Context) error {
	ap := new(AgentParams)
	if err := c.Bind(ap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid agent data")
	}
	if err := h.pipelineService.UpdatePipelineAgent(
		c.Request().Context(),
		ap.PipelineID,
		ap.Hostname,
		ap.Username,
		ap.Workspace,
		[]byte(ap.SSHPrivateKey),
	); err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to update pipeline agent",
		).WithInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PatchPipelineSchedule(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline data")
	}
	if err := h.pipelineService.UpdatePipelineSchedule(
		c.Request().Context(), pp.PipelineID, pp.Schedule, pp.ScheduleBranch,
	); err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to update pipeline schedule",
		).WithInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) DeletePipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pipeline data")
	}
	if err := h.pipelineService.DeletePipeline(c.Request().Context(), pp.PipelineID); err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to delete pipeline",
		).WithInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PostPipelineRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run data")
	}
	if rp.Branch == "" {
		rp.Branch = internal.DefaultBranch
	}
	return h.createAndEnqueueRun(c, rp.PipelineID, rp.Branch)
}

func (h *PipelineHandler) PostPipelineRunWebhookTrigger(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run data")
	}
	if rp.Branch == "" {
		rp.Branch = internal.DefaultBranch
	}
	return h.createAndEnqueueRun(c, rp.PipelineID, rp.Branch)
}

func (h *PipelineHandler) createAndEnqueueRun(c echo.Context, pipelineID int64, branch string) error {
	p, err := h.pipelineService.GetPipelineByID(c.Request().Context(), pipelineID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pipeline not found")
	}

	r, err := h.pipelineService.CreateRun(c.Request().Context(), p.PipelineID, branch)
	if err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to create run",
		).WithInternal(err)
	}

	if err := h.pipelineService.EnqueueRun(r); err != nil {
		return echo.NewHTTPError(
			http.StatusTooManyRequests, "pipeline run queue is full",
		).WithInternal(err)
	}

	return c.JSON(http.StatusCreated, r)
}

func (h *PipelineHandler) GetPipelineRuns(c echo.Context) error {
	lp := new(ListRunsParams)
	if err := c.Bind(lp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run data")
	}
	if lp.Page < 1 {
		lp.Page = 1
	}

	runs, err := h.pipelineService.ListPipelineRunsPaginated(
		c.Request().Context(),
		lp.PipelineID,
		maxRunsPerPage,
		(lp.Page-1)*maxRunsPerPage,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to list runs",
		).WithInternal(err)
	}
	count, err := h.pipelineService.GetPipelineRunCount(c.Request().Context(), lp.PipelineID)
	if err != nil {
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to count runs",
		).WithInternal(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"runs":  runs,
		"page":  lp.Page,
		"total": count,
	})
}

func (h *PipelineHandler) GetPipelineRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run data")
	}
	r, err := h.pipelineService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to read run",
		).WithInternal(err)
	}
	return c.JSON(http.StatusOK, hideOutput(r))
}

func (h *PipelineHandler) GetPipelineRunOutput(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run data")
	}
	r, err := h.pipelineService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(
			http.StatusInternalServerError, "unable to read run",
		).WithInternal(err)
	}
	var output string
	if r.Output != nil {
		output = *r.Output
	}
	return c.String(http.StatusOK, output)
}

// hideOutput trims the potentially large output column from list/detail
// payloads; the output endpoint serves it whole.
func hideOutput(r *store.Run) *store.Run {
	trimmed := *r
	trimmed.Output = nil
	return &trimmed
}
