// Package classify implements the frame classification pipeline stage. Each
// sampled frame is sent to an OpenAI-compatible vision model and labelled
// with one of the five excavator activities. Per-frame problems degrade to
// idle labels with a note; only an unreachable endpoint aborts the stage.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
	"github.com/jmylchreest/digwatch/internal/prompts"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "classify_frames"
	// StageName is the human-readable name for this stage.
	StageName = "Classify Frames"
)

// refineConfidence is the confidence floor below which a parallel
// first-pass label is revisited sequentially with prior-label context.
const refineConfidence = 0.6

// Placeholder previous labels for frames where no real one exists.
const (
	noPrevLabel      = "(none)"
	unknownPrevLabel = "(unknown)"
)

// Stage classifies the extracted frames with the vision model.
type Stage struct {
	shared.BaseStage
	client llm.ChatClient
	store  *prompts.Store
	logger *slog.Logger

	model            string
	maxTokens        int
	temperature      float64
	breakerThreshold int
	mode             string
	concurrency      int
}

// New creates a new frame classification stage.
func New(client llm.ChatClient, store *prompts.Store) *Stage {
	return &Stage{
		BaseStage:   shared.NewBaseStage(StageID, StageName),
		client:      client,
		store:       store,
		mode:        config.ClassifyModeSequential,
		concurrency: 1,
		temperature: -1,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.LLM, deps.Prompts)
		if deps.Config != nil {
			s.model = deps.Config.LLM.VisionModel
			s.maxTokens = deps.Config.LLM.VisionMaxTokens
			s.temperature = deps.Config.LLM.VisionTemperature
			s.breakerThreshold = deps.Config.LLM.BreakerThreshold
			s.mode = deps.Config.Pipeline.ClassifyMode
			s.concurrency = deps.Config.Pipeline.ClassifyConcurrency
		}
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute classifies every frame in state.Frames and fills
// state.Classifications in frame order. Frame metadata is released
// afterwards; the JPEG files stay on disk for the contact sheet.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	prompt, err := s.store.Get(prompts.PromptClassifier)
	if err != nil {
		return result, core.NewError(core.KindPromptTemplateMissing, StageID, state.SourceID, err)
	}
	system, err := prompt.Render(prompts.TemplateSystem, nil)
	if err != nil {
		return result, core.NewError(core.KindPromptTemplateMissing, StageID, state.SourceID, err)
	}

	cl := &classifier{
		client:           s.client,
		prompt:           prompt,
		system:           system,
		model:            s.model,
		maxTokens:        s.maxTokens,
		temperature:      s.temperature,
		breakerThreshold: s.breakerThreshold,
		sourceID:         state.SourceID,
		logger:           s.logger,
	}

	parallel := s.mode == config.ClassifyModeParallel && s.concurrency > 1

	s.log(ctx, slog.LevelInfo, "starting frame classification",
		slog.Int("frames", len(state.Frames)),
		slog.String("model", s.model),
		slog.Bool("parallel", parallel),
		slog.Int("concurrency", s.concurrency))

	var (
		classifications []models.Classification
		soft            int
		refined         int
	)
	if parallel {
		classifications, soft, refined, err = s.classifyParallel(ctx, state, cl)
	} else {
		classifications, soft, err = s.classifySequential(ctx, state, cl)
	}
	if err != nil {
		return result, err
	}

	state.Classifications = classifications
	state.SoftFailures = soft
	state.Frames = nil

	s.log(ctx, slog.LevelInfo, "frame classification complete",
		slog.Int("classified", len(classifications)),
		slog.Int("soft_failures", soft),
		slog.Int("refined", refined))
	s.ReportProgress(ctx, state, 1.0, fmt.Sprintf("%d frames classified", len(classifications)))

	result.RecordsProcessed = len(classifications)
	result.Message = fmt.Sprintf("Classified %d frames (%d soft failures)", len(classifications), soft)
	return result, nil
}

// classifySequential walks the frames in order, threading each frame's label
// into the next frame's prompt. Soft-failure labels participate like any
// other: the model is told what the pipeline will act on.
func (s *Stage) classifySequential(ctx context.Context, state *core.State, cl *classifier) ([]models.Classification, int, error) {
	classifications := make([]models.Classification, len(state.Frames))
	softCount := 0
	prev := noPrevLabel

	for i, frame := range state.Frames {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		c, soft, err := cl.classifyFrame(ctx, frame, prev)
		if err != nil {
			return nil, 0, err
		}
		if soft {
			softCount++
		}
		classifications[i] = c
		prev = c.Label.String()

		s.ReportItemProgress(ctx, state, i+1, len(state.Frames), filepath.Base(frame.Path))
	}

	return classifications, softCount, nil
}

// classifyParallel runs a bounded first pass without prior-label context,
// landing results in an index-addressed slice, then sequentially refines
// frames whose label is both low-confidence and inconsistent with its
// predecessor. A successful refinement clears the frame's soft mark.
func (s *Stage) classifyParallel(ctx context.Context, state *core.State, cl *classifier) ([]models.Classification, int, int, error) {
	classifications := make([]models.Classification, len(state.Frames))
	softFlags := make([]bool, len(state.Frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	var done atomic.Int64

	for i, frame := range state.Frames {
		g.Go(func() error {
			c, soft, err := cl.classifyFrame(gctx, frame, unknownPrevLabel)
			if err != nil {
				return err
			}
			classifications[i] = c
			softFlags[i] = soft
			s.ReportItemProgress(ctx, state, int(done.Add(1)), len(state.Frames), filepath.Base(frame.Path))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}

	refined := 0
	for i, frame := range state.Frames {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		if classifications[i].Confidence >= refineConfidence {
			continue
		}
		prev := models.LabelIdle
		if i > 0 {
			prev = classifications[i-1].Label
		}
		if classifications[i].Label == prev {
			continue
		}

		c, replaced, err := cl.refineFrame(ctx, frame, classifications[i], prev)
		if err != nil {
			return nil, 0, 0, err
		}
		if replaced {
			classifications[i] = c
			softFlags[i] = false
			refined++
		}
	}

	softCount := 0
	for _, soft := range softFlags {
		if soft {
			softCount++
		}
	}

	return classifications, softCount, refined, nil
}

// log logs a message if the logger is set.
func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
