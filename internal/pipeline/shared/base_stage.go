// Package shared holds the embeddable plumbing common to all pipeline
// stages.
package shared

import (
	"context"

	"github.com/jmylchreest/digwatch/internal/pipeline/core"
)

// BaseStage supplies the identity accessors and progress forwarding every
// stage needs. Stages embed it and implement Execute themselves.
type BaseStage struct {
	id   string
	name string
}

// NewBaseStage returns a BaseStage with the given identity.
func NewBaseStage(id, name string) BaseStage {
	return BaseStage{id: id, name: name}
}

// ID returns the stage identifier used in progress events and stage weights.
func (b *BaseStage) ID() string { return b.id }

// Name returns the human-readable stage name.
func (b *BaseStage) Name() string { return b.name }

// Cleanup is a no-op; stages with temp files override it.
func (b *BaseStage) Cleanup(ctx context.Context) error { return nil }

// ReportProgress sends fractional progress to the run's reporter when one is
// attached.
func (b *BaseStage) ReportProgress(ctx context.Context, state *core.State, progress float64, message string) {
	if r := state.ProgressReporter; r != nil {
		r.ReportProgress(ctx, b.id, progress, message)
	}
}

// ReportItemProgress sends current/total item counts to the run's reporter
// when one is attached.
func (b *BaseStage) ReportItemProgress(ctx context.Context, state *core.State, current, total int, item string) {
	if r := state.ProgressReporter; r != nil {
		r.ReportItemProgress(ctx, b.id, current, total, item)
	}
}

// NewResult returns an empty StageResult ready for artifacts.
func NewResult() *core.StageResult {
	return &core.StageResult{Artifacts: make([]core.Artifact, 0)}
}
