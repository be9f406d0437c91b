// Package report implements the report generation pipeline stage. The
// deterministic markdown report always renders; the narrative section, the
// chart-bearing HTML variant, and the contact sheet are additive and degrade
// gracefully when their inputs or services misbehave.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/storage"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "generate_report"
	// StageName is the human-readable name for this stage.
	StageName = "Generate Report"
)

// Stage renders the final report artifacts.
type Stage struct {
	shared.BaseStage
	client    llm.ChatClient
	store     *prompts.Store
	workspace *storage.Workspace
	logger    *slog.Logger

	templateID   string
	narrative    bool
	html         bool
	contactSheet bool
	save         bool

	textModel       string
	textMaxTokens   int
	textTemperature float64
}

// New creates a new report generation stage with the default template and
// all optional outputs disabled.
func New(client llm.ChatClient, store *prompts.Store, workspace *storage.Workspace) *Stage {
	return &Stage{
		BaseStage:       shared.NewBaseStage(StageID, StageName),
		client:          client,
		store:           store,
		workspace:       workspace,
		templateID:      "default",
		textTemperature: -1,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.LLM, deps.Prompts, deps.Workspace)
		if deps.Config != nil {
			s.templateID = deps.Config.Report.Template
			s.narrative = deps.Config.Report.Narrative
			s.html = deps.Config.Report.HTML
			s.contactSheet = deps.Config.Report.ContactSheet
			s.save = deps.Config.Report.Save
			s.textModel = deps.Config.LLM.TextModel
			s.textMaxTokens = deps.Config.LLM.TextMaxTokens
			s.textTemperature = deps.Config.LLM.TextTemperature
		}
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute renders the markdown report (and the optional HTML variant and
// contact sheet), saves the artifacts when configured, and fills
// state.Report.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	view := buildView(state)

	if s.narrative && s.client != nil && s.store != nil {
		s.ReportProgress(ctx, state, 0.1, "generating narrative")
		n := &narrator{
			client:      s.client,
			store:       s.store,
			model:       s.textModel,
			maxTokens:   s.textMaxTokens,
			temperature: s.textTemperature,
			logger:      s.logger,
		}
		narrative, note, err := n.generate(ctx, state)
		if err != nil {
			return result, err
		}
		view.Narrative, view.NarrativeNote = narrative, note
	}

	if s.html && len(state.Cycles) > 0 {
		s.attachCharts(ctx, state, view)
	}

	s.ReportProgress(ctx, state, 0.5, "rendering report")
	md, err := renderMarkdown(s.templateID, view)
	if err != nil {
		return result, renderError(err, state.SourceID)
	}

	artifact := models.ReportArtifact{Bytes: md, MIME: "text/markdown"}

	var htmlBytes []byte
	if s.html {
		htmlBytes, err = renderHTML(s.templateID, view)
		if err != nil {
			// The markdown report stands on its own; a broken HTML variant
			// is recorded, not fatal.
			s.warn(ctx, "HTML report skipped", err)
			state.AddError(err)
			htmlBytes = nil
		}
	}

	var sheetBytes []byte
	if s.contactSheet {
		sheetBytes, err = buildContactSheet(state.FramesDir)
		if err != nil {
			s.warn(ctx, "contact sheet skipped", err)
			state.AddError(err)
			sheetBytes = nil
		}
	}

	if s.save && s.workspace != nil {
		if err := s.saveArtifacts(ctx, state, &artifact, htmlBytes, sheetBytes, result); err != nil {
			return result, err
		}
	}

	state.Report = artifact

	if s.logger != nil {
		s.logger.InfoContext(ctx, "report generated",
			slog.Int("bytes", len(md)),
			slog.Bool("narrative", view.Narrative != ""),
			slog.Bool("html", htmlBytes != nil),
			slog.Bool("contact_sheet", sheetBytes != nil),
			slog.String("path", artifact.Path))
	}
	s.ReportProgress(ctx, state, 1.0, "report ready")

	result.RecordsProcessed = len(state.Cycles)
	result.Message = fmt.Sprintf("Generated report for %s (%d cycles)", state.SourceID, len(state.Cycles))
	return result, nil
}

// attachCharts builds the two chart documents for the HTML report. Chart
// failures degrade to a chartless HTML report.
func (s *Stage) attachCharts(ctx context.Context, state *core.State, view *reportData) {
	durations, err := durationsChart(state.Cycles)
	if err != nil {
		s.warn(ctx, "durations chart skipped", err)
		state.AddError(err)
		return
	}
	phases, err := phasesChart(state.Cycles)
	if err != nil {
		s.warn(ctx, "phases chart skipped", err)
		state.AddError(err)
		return
	}
	view.DurationsChart = durations
	view.PhasesChart = phases
}

// saveArtifacts persists the rendered outputs under the workspace reports
// directory. The markdown report is the contract: failing to save it fails
// the stage, while the supplements only log.
func (s *Stage) saveArtifacts(ctx context.Context, state *core.State, artifact *models.ReportArtifact, htmlBytes, sheetBytes []byte, result *core.StageResult) error {
	path, err := s.workspace.SaveReport(state.SourceID, state.RunID+".md", artifact.Bytes)
	if err != nil {
		return core.NewError(core.KindInternal, StageID, state.SourceID,
			fmt.Errorf("saving report: %w", err))
	}
	artifact.Path = path
	result.Artifacts = append(result.Artifacts,
		core.NewArtifact(core.ArtifactTypeReport, StageID).
			WithFilePath(path).
			WithFileSize(int64(len(artifact.Bytes))))

	if htmlBytes != nil {
		htmlPath, err := s.workspace.SaveReport(state.SourceID, state.RunID+".html", htmlBytes)
		if err != nil {
			s.warn(ctx, "saving HTML report failed", err)
			state.AddError(err)
		} else {
			artifact.HTMLPath = htmlPath
			result.Artifacts = append(result.Artifacts,
				core.NewArtifact(core.ArtifactTypeReportHTML, StageID).
					WithFilePath(htmlPath).
					WithFileSize(int64(len(htmlBytes))))
		}
	}

	if sheetBytes != nil {
		sheetPath, err := s.workspace.SaveReport(state.SourceID, state.RunID+"_frames.jpg", sheetBytes)
		if err != nil {
			s.warn(ctx, "saving contact sheet failed", err)
			state.AddError(err)
		} else {
			artifact.ContactSheetPath = sheetPath
			result.Artifacts = append(result.Artifacts,
				core.NewArtifact(core.ArtifactTypeContactSheet, StageID).
					WithFilePath(sheetPath).
					WithFileSize(int64(len(sheetBytes))))
		}
	}

	return nil
}

// renderError maps a render failure onto the pipeline error taxonomy.
func renderError(err error, sourceID string) error {
	kind := core.KindRenderFailed
	if errors.Is(err, errTemplateMissing) {
		kind = core.KindTemplateMissing
	}
	return core.NewError(kind, StageID, sourceID, err)
}

// warn logs a warning if the logger is set.
func (s *Stage) warn(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, slog.String("error", err.Error()))
	}
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
