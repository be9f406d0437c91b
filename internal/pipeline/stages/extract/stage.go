// Package extract implements the frame extraction pipeline stage.
// It probes the source with ffprobe, then streams sampled JPEG frames out of
// ffmpeg into the run workspace.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmylchreest/digwatch/internal/ffmpeg"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
	"github.com/jmylchreest/digwatch/pkg/format"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "extract_frames"
	// StageName is the human-readable name for this stage.
	StageName = "Extract Frames"
)

// progressEvery is how many frames pass between progress reports.
const progressEvery = 20

// Stage extracts sampled frames from the source video.
type Stage struct {
	shared.BaseStage
	detector *ffmpeg.BinaryDetector
	prober   *ffmpeg.Prober
	logger   *slog.Logger
}

// New creates a new frame extraction stage.
func New(detector *ffmpeg.BinaryDetector, prober *ffmpeg.Prober) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName),
		detector:  detector,
		prober:    prober,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.FFmpeg, deps.Prober)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute probes the source and extracts sampled frames into state.FramesDir.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	// Local sources are checked up front; http(s) URLs go straight to
	// ffmpeg, which handles network input itself.
	if !isRemote(state.Source) {
		info, err := os.Stat(state.Source)
		if err != nil {
			return result, core.NewError(core.KindSourceUnavailable, StageID, state.SourceID,
				fmt.Errorf("source not accessible: %w", err))
		}
		if info.IsDir() {
			return result, core.NewError(core.KindSourceUnavailable, StageID, state.SourceID,
				fmt.Errorf("source %s is a directory", state.Source))
		}
	}

	binaries, err := s.detector.Detect(ctx)
	if err != nil {
		return result, core.NewError(core.KindConfigInvalid, StageID, state.SourceID,
			fmt.Errorf("locating ffmpeg: %w", err))
	}
	if binaries.FFprobePath == "" {
		return result, core.NewError(core.KindConfigInvalid, StageID, state.SourceID,
			errors.New("ffprobe not found; install it or set ffmpeg.probe_path"))
	}

	prober := s.prober
	if prober == nil {
		prober = ffmpeg.NewProber(binaries.FFprobePath)
	}

	video, err := prober.ProbeVideo(ctx, state.Source)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, core.NewError(core.KindSourceUnavailable, StageID, state.SourceID,
			fmt.Errorf("probing source: %w", err))
	}

	stride := ffmpeg.Stride(video.FPS, state.SamplingFPS)

	s.log(ctx, slog.LevelInfo, "starting frame extraction",
		slog.String("source", state.Source),
		slog.Float64("native_fps", video.FPS),
		slog.Float64("duration", video.Duration),
		slog.Int("sampling_fps", state.SamplingFPS),
		slog.Int("stride", stride))

	// Rough total for progress: sampled frames over the whole duration,
	// capped by max_frames when set.
	estimated := int(video.Duration * float64(state.SamplingFPS))
	if state.MaxFrames > 0 && state.MaxFrames < estimated {
		estimated = state.MaxFrames
	}

	extractor := ffmpeg.NewExtractor(binaries.FFmpegPath, s.logger)
	opts := ffmpeg.ExtractOptions{
		Source:      state.Source,
		OutputDir:   state.FramesDir,
		SamplingFPS: state.SamplingFPS,
		MaxFrames:   state.MaxFrames,
		Video:       video,
	}

	frames, err := extractor.Extract(ctx, opts, func(f ffmpeg.ExtractedFrame) {
		n := f.Index + 1
		if n%progressEvery == 0 {
			s.ReportItemProgress(ctx, state, n, estimated, f.Path)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		switch {
		case errors.Is(err, ffmpeg.ErrUnreadableFrames):
			return result, core.NewError(core.KindDecodeFailed, StageID, state.SourceID, err)
		case errors.Is(err, ffmpeg.ErrOpenSource):
			return result, core.NewError(core.KindSourceUnavailable, StageID, state.SourceID, err)
		default:
			return result, core.NewError(core.KindInternal, StageID, state.SourceID, err)
		}
	}
	if len(frames) == 0 {
		return result, core.NewError(core.KindNoFramesExtracted, StageID, state.SourceID,
			fmt.Errorf("source %s yielded no frames", state.Source))
	}

	state.NativeFPS = video.FPS
	state.VideoDuration = video.Duration
	state.FramesExtracted = len(frames)
	state.Frames = make([]models.Frame, len(frames))
	var totalBytes int64
	for i, f := range frames {
		state.Frames[i] = models.Frame{
			Index:       f.Index,
			SourceFrame: f.SourceFrame,
			Timestamp:   f.Timestamp,
			Path:        f.Path,
			Width:       f.Width,
			Height:      f.Height,
		}
		totalBytes += f.SizeBytes
	}

	s.ReportItemProgress(ctx, state, len(frames), len(frames), "")

	s.log(ctx, slog.LevelInfo, "frame extraction complete",
		slog.Int("frames", len(frames)),
		slog.String("total_size", format.Bytes(totalBytes)))

	artifact := core.NewArtifact(core.ArtifactTypeFrames, StageID).
		WithFilePath(state.FramesDir).
		WithRecordCount(len(frames)).
		WithFileSize(totalBytes)
	result.Artifacts = append(result.Artifacts, artifact)

	result.RecordsProcessed = len(frames)
	result.Message = fmt.Sprintf("Extracted %d frames at %d fps (stride %d)",
		len(frames), state.SamplingFPS, stride)

	return result, nil
}

// isRemote reports whether the source is a URL ffmpeg should fetch itself.
func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// log logs a message if the logger is set.
func (s *Stage) log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(ctx, level, msg, attrs...)
	}
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
