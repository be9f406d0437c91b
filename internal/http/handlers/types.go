// Package handlers provides HTTP API handlers for digwatch.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Items per page"`
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta builds pagination metadata from a page request and total count.
func NewPaginationMeta(page, limit int, total int64) PaginationMeta {
	totalPages := total / int64(limit)
	if total%int64(limit) > 0 {
		totalPages++
	}
	return PaginationMeta{
		CurrentPage: page,
		PageSize:    limit,
		TotalItems:  total,
		TotalPages:  totalPages,
	}
}

// Run types

// RunResponse represents an analysis run in API responses.
type RunResponse struct {
	ID              models.ULID         `json:"id"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Source          string              `json:"source"`
	SourceID        string              `json:"source_id"`
	Status          models.RunStatus    `json:"status"`
	SamplingFPS     int                 `json:"sampling_fps,omitempty"`
	FramesExtracted int                 `json:"frames_extracted"`
	EventCount      int                 `json:"event_count"`
	CycleCount      int                 `json:"cycle_count"`
	SoftFailures    int                 `json:"soft_failures"`
	Statistics      json.RawMessage     `json:"statistics,omitempty"`
	TelemetryFound  bool                `json:"telemetry_found"`
	ReportPath      string              `json:"report_path,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	DurationMs      int64               `json:"duration_ms,omitempty"`
	Error           string              `json:"error,omitempty"`
	Cycles          []RunCycleResponse  `json:"cycles,omitempty"`
}

// RunFromModel converts a model to a response.
func RunFromModel(r *models.Run) RunResponse {
	resp := RunResponse{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Source:          r.Source,
		SourceID:        r.SourceID,
		Status:          r.Status,
		SamplingFPS:     r.SamplingFPS,
		FramesExtracted: r.FramesExtracted,
		EventCount:      r.EventCount,
		CycleCount:      r.CycleCount,
		SoftFailures:    r.SoftFailures,
		TelemetryFound:  r.TelemetryFound,
		ReportPath:      r.ReportPath,
		DurationMs:      r.DurationMs,
		Error:           r.Error,
	}
	if r.StatsJSON != "" {
		resp.Statistics = json.RawMessage(r.StatsJSON)
	}
	resp.StartedAt = r.StartedAt
	resp.CompletedAt = r.CompletedAt
	for i := range r.Cycles {
		resp.Cycles = append(resp.Cycles, RunCycleFromModel(&r.Cycles[i]))
	}
	return resp
}

// RunCycleResponse represents a single work cycle in API responses.
type RunCycleResponse struct {
	Number       int     `json:"number"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Duration     float64 `json:"duration"`
	Dig          float64 `json:"dig"`
	SwingToDump  float64 `json:"swing_to_dump"`
	Dump         float64 `json:"dump"`
	Return       float64 `json:"return"`
	Completeness string  `json:"completeness"`
	Note         string  `json:"note,omitempty"`
}

// RunCycleFromModel converts a model to a response.
func RunCycleFromModel(c *models.RunCycle) RunCycleResponse {
	return RunCycleResponse{
		Number:       c.Number,
		Start:        c.Start,
		End:          c.End,
		Duration:     c.Duration,
		Dig:          c.PhaseDig,
		SwingToDump:  c.PhaseSwingToDump,
		Dump:         c.PhaseDump,
		Return:       c.PhaseReturn,
		Completeness: string(c.Completeness),
		Note:         c.Note,
	}
}
