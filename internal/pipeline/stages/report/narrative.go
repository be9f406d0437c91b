package report

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/prompts"
)

// narrativeUnavailable is appended to the report when narrative generation
// fails; the deterministic sections are always rendered regardless.
const narrativeUnavailable = "Analyst summary unavailable; this report shows the deterministic analysis only."

// narrator asks the text model for a prose performance summary.
type narrator struct {
	client      llm.ChatClient
	store       *prompts.Store
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// narrativeStats is the structured payload the text model analyzes.
type narrativeStats struct {
	SourceID     string                  `json:"source_id"`
	Statistics   models.CycleStatistics  `json:"statistics"`
	Cycles       []models.Cycle          `json:"cycles"`
	Telemetry    *models.TelemetryRecord `json:"telemetry,omitempty"`
	SoftFailures int                     `json:"soft_failures,omitempty"`
}

// generate returns the model-written narrative, or an empty narrative plus
// an explanatory note. Prompt problems, transport errors, and empty
// completions all degrade to the deterministic report; the only error
// returned is cancellation.
func (n *narrator) generate(ctx context.Context, state *core.State) (narrative, note string, err error) {
	if state.Statistics.Count == 0 {
		return "", "", nil
	}

	prompt, err := n.store.Get(prompts.PromptNarrative)
	if err != nil {
		return "", n.fallback(ctx, "loading narrative prompt", err), nil
	}
	system, err := prompt.Render(prompts.TemplateSystem, nil)
	if err != nil {
		return "", n.fallback(ctx, "rendering narrative system prompt", err), nil
	}

	payload := narrativeStats{
		SourceID:     state.SourceID,
		Statistics:   state.Statistics,
		Cycles:       state.Cycles,
		SoftFailures: state.SoftFailures,
	}
	if state.Telemetry.Found || state.Telemetry.Joystick != nil {
		payload.Telemetry = &state.Telemetry
	}
	statsJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", n.fallback(ctx, "encoding statistics", err), nil
	}

	user, err := prompt.Render(prompts.TemplateUser, map[string]string{"StatsJSON": string(statsJSON)})
	if err != nil {
		return "", n.fallback(ctx, "rendering narrative prompt", err), nil
	}

	resp, err := n.client.Chat(ctx, llm.ChatRequest{
		Model: n.model,
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleSystem, system),
			llm.TextMessage(llm.RoleUser, user),
		},
		MaxTokens:   n.maxTokens,
		Temperature: n.temperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		return "", n.fallback(ctx, "narrative model call", err), nil
	}

	content := resp.Content()
	if content == "" {
		return "", n.fallback(ctx, "narrative model call", nil), nil
	}
	return content, "", nil
}

func (n *narrator) fallback(ctx context.Context, step string, err error) string {
	if n.logger != nil {
		attrs := []any{slog.String("step", step)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		n.logger.WarnContext(ctx, "narrative generation failed", attrs...)
	}
	return narrativeUnavailable
}
