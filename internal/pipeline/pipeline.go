// Package pipeline is the entry point for video work-cycle analysis. It
// wires the six analysis stages into a factory and re-exports the small
// core surface that callers outside the pipeline need.
//
// The implementation lives in sub-packages:
//   - core: Orchestrator, interfaces, and base types
//   - shared: utilities shared between stages
//   - stages/*: the stage implementations
package pipeline

import (
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/assemble"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/classify"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/detect"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/extract"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/report"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/telemetry"
)

type (
	// State holds shared data between stages.
	State = core.State

	// Orchestrator executes stages in sequence.
	Orchestrator = core.Orchestrator

	// OrchestratorFactory creates orchestrators.
	OrchestratorFactory = core.OrchestratorFactory

	// Factory creates orchestrators from registered stage constructors.
	Factory = core.Factory

	// Dependencies bundles stage dependencies.
	Dependencies = core.Dependencies
)

// Error kinds callers branch on.
const (
	KindClassifierUnavailable = core.KindClassifierUnavailable
	KindStageTimeout          = core.KindStageTimeout
)

var (
	// NewConfigurationError builds an error that maps to a configuration
	// failure exit code.
	NewConfigurationError = core.NewConfigurationError

	// IsKind reports whether err carries the given taxonomy kind.
	IsKind = core.IsKind

	// ExitCode maps an error to the CLI exit code contract.
	ExitCode = core.ExitCode
)

// NewFactory creates a new pipeline factory with the given dependencies.
func NewFactory(deps *Dependencies) *Factory {
	return core.NewFactory(deps)
}

// NewDefaultFactory creates a factory with the standard six-stage analysis
// configuration: extraction, classification, event detection, cycle
// assembly, telemetry enrichment, and report generation, in that order.
func NewDefaultFactory(deps *Dependencies) *Factory {
	factory := NewFactory(deps)

	factory.RegisterStage(extract.NewConstructor())
	factory.RegisterStage(classify.NewConstructor())
	factory.RegisterStage(detect.NewConstructor())
	factory.RegisterStage(assemble.NewConstructor())
	factory.RegisterStage(telemetry.NewConstructor())
	factory.RegisterStage(report.NewConstructor())

	return factory
}
