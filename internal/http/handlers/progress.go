package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/service/progress"
)

// ProgressHandler exposes operation progress over REST and a live SSE
// stream.
type ProgressHandler struct {
	service           *progress.Service
	heartbeatInterval time.Duration
}

// NewProgressHandler creates a progress handler with a 30s SSE heartbeat.
func NewProgressHandler(service *progress.Service) *ProgressHandler {
	return &ProgressHandler{
		service:           service,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval overrides the SSE heartbeat interval. Tests use this
// to exercise heartbeats without waiting.
func (h *ProgressHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// ProgressResponse is the API shape of one operation. Percentages are 0-100
// for direct display; the service works in 0-1 fractions.
type ProgressResponse struct {
	ID                string          `json:"id"`
	OperationName     string          `json:"operation_name"`
	OperationType     string          `json:"operation_type"`
	OwnerID           string          `json:"owner_id"`
	OwnerType         string          `json:"owner_type"`
	State             string          `json:"state"`
	OverallPercentage float64         `json:"overall_percentage"`
	Error             string          `json:"error,omitempty"`
	Stages            []StageResponse `json:"stages,omitempty"`
	CurrentStage      string          `json:"current_stage"`
	StartedAt         time.Time       `json:"started_at"`
	LastUpdate        time.Time       `json:"last_update"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// StageResponse is the API shape of one pipeline stage.
type StageResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Percentage float64 `json:"percentage"`
	StageStep  string  `json:"stage_step,omitempty"`
}

// ProgressFromService converts a service snapshot into the API shape.
func ProgressFromService(p *progress.OperationProgress) ProgressResponse {
	name := p.Message
	if name == "" {
		name = string(p.OperationType)
	}

	resp := ProgressResponse{
		ID:                p.OperationID,
		OperationName:     name,
		OperationType:     string(p.OperationType),
		OwnerID:           p.OwnerID.String(),
		OwnerType:         p.OwnerType,
		State:             string(p.State),
		OverallPercentage: p.Progress * 100,
		Error:             p.Error,
		StartedAt:         p.StartedAt,
		LastUpdate:        p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
		Metadata:          p.Metadata,
	}
	if cur := p.CurrentStage(); cur != nil {
		resp.CurrentStage = cur.ID
	}
	for _, st := range p.Stages {
		resp.Stages = append(resp.Stages, StageResponse{
			ID:         st.ID,
			Name:       st.Name,
			State:      string(st.State),
			Percentage: st.Progress * 100,
			StageStep:  st.Message,
		})
	}
	return resp
}

// ListOperationsInput filters the operations list.
type ListOperationsInput struct {
	OperationType string `query:"operation_type" doc:"Filter by operation type"`
	OwnerID       string `query:"owner_id" doc:"Filter by owner ID"`
	ResourceID    string `query:"resource_id" doc:"Filter by resource ID"`
	State         string `query:"state" doc:"Filter by state"`
	ActiveOnly    bool   `query:"active_only" doc:"Only return active operations"`
}

// ListOperationsBody wraps the operations list.
type ListOperationsBody struct {
	Operations []ProgressResponse `json:"operations"`
}

// ListOperationsOutput is the list endpoint response.
type ListOperationsOutput struct {
	Body ListOperationsBody
}

// GetOperationInput addresses one operation.
type GetOperationInput struct {
	OperationID string `path:"operation_id" doc:"Operation ID"`
}

// GetOperationOutput is the single-operation response.
type GetOperationOutput struct {
	Body ProgressResponse
}

// Register wires the REST endpoints into the huma API.
func (h *ProgressHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listOperations",
		Method:      "GET",
		Path:        "/api/v1/progress/operations",
		Summary:     "List operations",
		Description: "Returns a list of current and recent progress operations",
		Tags:        []string{"Progress"},
	}, h.ListOperations)

	huma.Register(api, huma.Operation{
		OperationID: "getOperation",
		Method:      "GET",
		Path:        "/api/v1/progress/operations/{operation_id}",
		Summary:     "Get operation",
		Description: "Returns details for a specific progress operation",
		Tags:        []string{"Progress"},
	}, h.GetOperation)
}

// RegisterSSE mounts the event stream on a chi-style router. Huma cannot
// express a long-lived SSE response, so this endpoint bypasses it.
func (h *ProgressHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/progress/events", h.HandleSSEEvents)
}

// ListOperations handles GET /api/v1/progress/operations.
func (h *ProgressHandler) ListOperations(ctx context.Context, input *ListOperationsInput) (*ListOperationsOutput, error) {
	filter := &progress.OperationFilter{ActiveOnly: input.ActiveOnly}

	if input.OperationType != "" {
		t := progress.OperationType(input.OperationType)
		filter.OperationType = &t
	}
	if input.OwnerID != "" {
		if id, err := models.ParseULID(input.OwnerID); err == nil {
			filter.OwnerID = &id
		}
	}
	if input.ResourceID != "" {
		if id, err := models.ParseULID(input.ResourceID); err == nil {
			filter.ResourceID = &id
		}
	}
	if input.State != "" {
		st := progress.OperationState(input.State)
		filter.State = &st
	}

	ops := h.service.ListOperations(filter)
	out := &ListOperationsOutput{
		Body: ListOperationsBody{Operations: make([]ProgressResponse, 0, len(ops))},
	}
	for _, op := range ops {
		out.Body.Operations = append(out.Body.Operations, ProgressFromService(op))
	}
	return out, nil
}

// GetOperation handles GET /api/v1/progress/operations/{operation_id}.
func (h *ProgressHandler) GetOperation(ctx context.Context, input *GetOperationInput) (*GetOperationOutput, error) {
	op, err := h.service.GetOperation(input.OperationID)
	if err != nil {
		return nil, huma.Error404NotFound("operation not found")
	}
	return &GetOperationOutput{Body: ProgressFromService(op)}, nil
}

// HandleSSEEvents streams progress events until the client disconnects.
// Subscriptions deliberately ignore state/active_only filters so terminal
// events always reach the client.
func (h *ProgressHandler) HandleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.service.Subscribe(sseFilter(r))
	defer h.service.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	// SSE connections outlive the server's WriteTimeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("failed to clear SSE write deadline", "error", err)
	}

	// An initial comment triggers onopen in browsers.
	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		slog.Error("failed to flush initial SSE comment", "error", err)
		return
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Error("failed to write SSE event",
					"event_type", ev.EventType,
					"operation_id", ev.Progress.OperationID,
					"error", err,
				)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// sseFilter builds a subscription filter from the request query.
func sseFilter(r *http.Request) *progress.OperationFilter {
	q := r.URL.Query()
	filter := &progress.OperationFilter{}

	if t := q.Get("operation_type"); t != "" {
		opType := progress.OperationType(t)
		filter.OperationType = &opType
	}
	if owner := q.Get("owner_id"); owner != "" {
		if id, err := models.ParseULID(owner); err == nil {
			filter.OwnerID = &id
		}
	}
	if res := q.Get("resource_id"); res != "" {
		if id, err := models.ParseULID(res); err == nil {
			filter.ResourceID = &id
		}
	}
	return filter
}

// writeSSEEvent serializes one event in SSE framing as a single write.
func writeSSEEvent(w http.ResponseWriter, ev *progress.ProgressEvent) error {
	data, err := json.Marshal(ProgressFromService(ev.Progress))
	if err != nil {
		fmt.Fprintf(w, "event: %s\ndata: {\"error\": \"marshal error\"}\n\n", ev.EventType)
		return err
	}

	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.EventType, data))
	n, err := w.Write(msg)
	if err != nil {
		return err
	}
	if n < len(msg) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(msg))
	}
	return nil
}
