package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/service"
)

// RunsHandler handles analysis run endpoints.
type RunsHandler struct {
	analysisService *service.AnalysisService
	logger          *slog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(analysisService *service.AnalysisService, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunsHandler{
		analysisService: analysisService,
		logger:          logger,
	}
}

// Register registers the run routes with the API.
func (h *RunsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      "GET",
		Path:        "/api/v1/runs",
		Summary:     "List runs",
		Description: "Returns analysis runs, newest first",
		Tags:        []string{"Runs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get run",
		Description: "Returns an analysis run by ID with its cycles",
		Tags:        []string{"Runs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "startRun",
		Method:      "POST",
		Path:        "/api/v1/runs",
		Summary:     "Start analysis",
		Description: "Starts an asynchronous analysis of a video source",
		Tags:        []string{"Runs"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "deleteRun",
		Method:      "DELETE",
		Path:        "/api/v1/runs/{id}",
		Summary:     "Delete run",
		Description: "Deletes a run record, its cycles, and any leftover work directory",
		Tags:        []string{"Runs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getRunReport",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}/report",
		Summary:     "Get run report",
		Description: "Returns the rendered report artifact for a completed run",
		Tags:        []string{"Runs"},
	}, h.GetReport)
}

// ListRunsInput is the input for listing runs.
type ListRunsInput struct {
	Status   string `query:"status" doc:"Filter by run status" enum:"pending,running,completed,failed,cancelled,"`
	SourceID string `query:"source_id" doc:"Filter by source identifier"`
	Pagination
}

// ListRunsOutput is the output for listing runs.
type ListRunsOutput struct {
	Body struct {
		Runs       []RunResponse  `json:"runs"`
		Pagination PaginationMeta `json:"pagination"`
	}
}

// List returns analysis runs, newest first.
func (h *RunsHandler) List(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
	var status *models.RunStatus
	if input.Status != "" {
		st := models.RunStatus(input.Status)
		status = &st
	}

	offset := (input.Page - 1) * input.Limit
	runs, total, err := h.analysisService.ListRuns(ctx, status, input.SourceID, offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list runs", err)
	}

	resp := &ListRunsOutput{}
	resp.Body.Runs = make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp.Body.Runs = append(resp.Body.Runs, RunFromModel(r))
	}
	resp.Body.Pagination = NewPaginationMeta(input.Page, input.Limit, total)

	return resp, nil
}

// GetRunInput is the input for getting a single run.
type GetRunInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// GetRunOutput is the output for getting a single run.
type GetRunOutput struct {
	Body RunResponse
}

// GetByID returns a run by ID with its cycles.
func (h *RunsHandler) GetByID(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	run, err := h.analysisService.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to get run", err)
	}

	return &GetRunOutput{Body: RunFromModel(run)}, nil
}

// StartRunInput is the input for starting an analysis.
type StartRunInput struct {
	Body struct {
		Source string `json:"source" minLength:"1" doc:"Video path or URL to analyze"`
	}
}

// StartRunOutput is the output for starting an analysis.
type StartRunOutput struct {
	Body struct {
		Message string `json:"message"`
		Source  string `json:"source"`
	}
}

// Start begins an asynchronous analysis of a video source.
// Progress is tracked via the progress SSE endpoint, not this request.
func (h *RunsHandler) Start(ctx context.Context, input *StartRunInput) (*StartRunOutput, error) {
	source := input.Body.Source

	// Run in a background context so the analysis outlives this request.
	go func() {
		if _, _, err := h.analysisService.Analyze(context.Background(), source); err != nil {
			h.logger.Error("analysis failed",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
		}
	}()

	resp := &StartRunOutput{}
	resp.Body.Message = "analysis started"
	resp.Body.Source = source
	return resp, nil
}

// DeleteRunInput is the input for deleting a run.
type DeleteRunInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// DeleteRunOutput is the output for deleting a run.
type DeleteRunOutput struct{}

// Delete deletes a run.
func (h *RunsHandler) Delete(ctx context.Context, input *DeleteRunInput) (*DeleteRunOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.analysisService.DeleteRun(ctx, id); err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to delete run", err)
	}

	return &DeleteRunOutput{}, nil
}

// GetRunReportInput is the input for fetching a run's report.
type GetRunReportInput struct {
	ID     string `path:"id" doc:"Run ID (ULID)"`
	Format string `query:"format" doc:"Report format" enum:"markdown,html," default:"markdown"`
}

// GetRunReportOutput is the output for fetching a run's report.
type GetRunReportOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// GetReport returns the rendered report artifact for a run.
func (h *RunsHandler) GetReport(ctx context.Context, input *GetRunReportInput) (*GetRunReportOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	_, data, mime, err := h.analysisService.GetReport(ctx, id, input.Format == "html")
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", input.ID))
		}
		if errors.Is(err, service.ErrReportNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("run %s has no report", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to read report", err)
	}

	return &GetRunReportOutput{
		ContentType: mime,
		Body:        data,
	}, nil
}
