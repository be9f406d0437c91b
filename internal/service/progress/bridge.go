package progress

import (
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
)

// Ensure OperationManager implements core.ProgressReporter at compile time.
var _ core.ProgressReporter = (*OperationManager)(nil)

// stageWeights holds the relative progress share of each analysis stage, so
// the aggregate bar reflects where the time actually goes (classification
// and report generation dominate a run).
var stageWeights = map[string]float64{
	"extract_frames":   0.10,
	"classify_frames":  0.25,
	"detect_actions":   0.05,
	"assemble_cycles":  0.20,
	"enrich_telemetry": 0.10,
	"generate_report":  0.30,
}

// CreateStagesFromPipeline creates StageInfo entries from pipeline stages.
// Known analysis stages get their fixed weights; any pipeline containing an
// unknown stage falls back to equal weighting.
func CreateStagesFromPipeline(stages []core.Stage) []StageInfo {
	weights := make([]float64, len(stages))
	known := true
	for i, stage := range stages {
		w, ok := stageWeights[stage.ID()]
		if !ok {
			known = false
			break
		}
		weights[i] = w
	}
	if !known {
		for i := range weights {
			weights[i] = 1.0 / float64(len(stages))
		}
	}

	infos := make([]StageInfo, len(stages))
	for i, stage := range stages {
		infos[i] = StageInfo{
			ID:     stage.ID(),
			Name:   stage.Name(),
			Weight: weights[i],
		}
	}
	return infos
}

// StartPipelineOperation is a convenience function that starts a progress operation
// for a pipeline execution and returns the OperationManager that implements core.ProgressReporter.
// It handles operation creation and stage setup in one call.
func StartPipelineOperation(
	svc *Service,
	ownerType string,
	ownerID models.ULID,
	stages []core.Stage,
) (*OperationManager, error) {
	stageInfos := CreateStagesFromPipeline(stages)

	// Determine operation type based on owner type
	var opType OperationType
	switch ownerType {
	case "run":
		opType = OpAnalysis
	case "batch":
		opType = OpBatchAnalysis
	case "simulation":
		opType = OpSimulation
	default:
		opType = OpPipeline
	}

	return svc.StartOperation(opType, ownerID, ownerType, stageInfos)
}
