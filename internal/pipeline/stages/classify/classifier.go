package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/pkg/format"
)

// failureCounter is implemented by clients that expose their transport's
// consecutive-failure count (the concrete llm.Client does).
type failureCounter interface {
	ConsecutiveFailures() int
}

// classifier performs the per-frame vision calls for one run. It is
// stateless apart from its configuration, so the parallel first pass can
// share one instance across workers.
type classifier struct {
	client           llm.ChatClient
	prompt           *prompts.Prompt
	system           string
	model            string
	maxTokens        int
	temperature      float64
	breakerThreshold int
	sourceID         string
	logger           *slog.Logger
}

// promptData is the variable set the user and refine templates render with.
type promptData struct {
	FrameNumber int
	Timestamp   string
	PrevLabel   string
	Label       string
}

// classifyFrame asks the vision model to label one frame. prevLabel is the
// previous frame's label, noPrevLabel for the first frame, or
// unknownPrevLabel during the parallel first pass. soft reports whether the
// returned classification is a fallback rather than a model answer.
func (c *classifier) classifyFrame(ctx context.Context, frame models.Frame, prevLabel string) (result models.Classification, soft bool, err error) {
	userText, err := c.prompt.Render(prompts.TemplateUser, promptData{
		FrameNumber: frame.Index + 1,
		Timestamp:   format.MMSS(frame.Timestamp),
		PrevLabel:   prevLabel,
	})
	if err != nil {
		return models.Classification{}, false, core.NewError(core.KindPromptTemplateMissing, StageID, c.sourceID, err)
	}
	return c.ask(ctx, frame, userText)
}

// refineFrame re-asks a low-confidence frame with prior-label context.
// replaced reports whether the model produced a usable new answer; a soft
// problem on the refinement call keeps the provisional classification. Only
// hard failures (unavailable endpoint, tripped breaker, cancellation)
// propagate.
func (c *classifier) refineFrame(ctx context.Context, frame models.Frame, provisional models.Classification, prevLabel models.ActivityLabel) (result models.Classification, replaced bool, err error) {
	userText, err := c.prompt.Render(prompts.TemplateRefine, promptData{
		FrameNumber: frame.Index + 1,
		Timestamp:   format.MMSS(frame.Timestamp),
		PrevLabel:   prevLabel.String(),
		Label:       provisional.Label.String(),
	})
	if err != nil {
		return models.Classification{}, false, core.NewError(core.KindPromptTemplateMissing, StageID, c.sourceID, err)
	}

	refined, soft, err := c.ask(ctx, frame, userText)
	if err != nil {
		return models.Classification{}, false, err
	}
	if soft {
		return provisional, false, nil
	}
	return refined, true, nil
}

// ask performs one vision call and maps the outcome. Unreadable frames,
// transport errors below the breaker threshold, and unusable responses all
// degrade to a soft idle/0 classification with a note; an open circuit or a
// tripped breaker aborts the stage.
func (c *classifier) ask(ctx context.Context, frame models.Frame, userText string) (models.Classification, bool, error) {
	jpeg, err := os.ReadFile(frame.Path)
	if err != nil {
		return c.softFailure(frame, fmt.Sprintf("reading frame: %v", err)), true, nil
	}

	req := llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleSystem, c.system),
			llm.VisionMessage(userText, jpeg),
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return models.Classification{}, false, core.NewError(core.KindClassifierUnavailable, StageID, c.sourceID, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Classification{}, false, ctxErr
		}
		if fc, ok := c.client.(failureCounter); ok && c.breakerThreshold > 0 &&
			fc.ConsecutiveFailures() >= c.breakerThreshold {
			return models.Classification{}, false, core.NewError(core.KindClassifierUnavailable, StageID, c.sourceID,
				fmt.Errorf("%d consecutive classifier failures: %w", fc.ConsecutiveFailures(), err))
		}
		return c.softFailure(frame, fmt.Sprintf("model call failed: %v", err)), true, nil
	}

	label, confidence, note, err := parseClassification(resp.Content())
	if err != nil {
		// Unusable responses are soft: the call succeeded, so the breaker
		// is untouched.
		return c.softFailure(frame, fmt.Sprintf("unusable model response: %v", err)), true, nil
	}

	return models.Classification{
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
		Label:      label,
		Confidence: confidence,
		Note:       note,
	}, false, nil
}

// softFailure builds the per-frame fallback: label idle, confidence zero,
// the reason in the note.
func (c *classifier) softFailure(frame models.Frame, note string) models.Classification {
	if c.logger != nil {
		c.logger.Debug("soft classification failure",
			slog.Int("frame", frame.Index),
			slog.String("note", note))
	}
	return models.Classification{
		FrameIndex: frame.Index,
		Timestamp:  frame.Timestamp,
		Label:      models.LabelIdle,
		Confidence: 0,
		Note:       note,
	}
}

// classifierResponse is the JSON shape the model is instructed to return.
// Confidence is a pointer so a missing field is distinguishable from 0.
type classifierResponse struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Note       string   `json:"note"`
}

// parseClassification validates a model response. It tolerates a Markdown
// code fence around the JSON; anything else non-conforming is an error the
// caller turns into a soft failure.
func parseClassification(content string) (models.ActivityLabel, float64, string, error) {
	raw := stripFences(content)
	if raw == "" {
		return "", 0, "", errors.New("empty response")
	}

	var resp classifierResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", 0, "", fmt.Errorf("not valid JSON: %w", err)
	}

	label, ok := models.ParseLabel(resp.Label)
	if !ok {
		return "", 0, "", fmt.Errorf("unknown label %q", resp.Label)
	}
	if resp.Confidence == nil {
		return "", 0, "", errors.New("missing confidence")
	}

	confidence := *resp.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return label, confidence, resp.Note, nil
}

// stripFences removes a surrounding Markdown code fence (with or without a
// language tag) from a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		// Single-line fence like ```{"label": ...}```.
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
