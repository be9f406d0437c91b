package simulate

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/storage"
	"github.com/jmylchreest/digwatch/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.SamplingFPS = 1
	cfg.Pipeline.CompleteCycleSeconds = 5
	cfg.Pipeline.PartialCycleSeconds = 3
	cfg.Report.Template = "default"
	return cfg
}

func testDeps(t *testing.T, cfg *config.Config) *pipeline.Dependencies {
	t.Helper()
	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return &pipeline.Dependencies{
		Config:    cfg,
		Logger:    testLogger(),
		Workspace: ws,
	}
}

// twoCycleScenario runs two clean nine-second cycles separated by idle, so
// the second dig opens from IDLE and both cycles assemble as complete.
func twoCycleScenario(name string) *Scenario {
	return &Scenario{
		Name:        name,
		SamplingFPS: 1,
		Segments: []Segment{
			{Label: "digging", Duration: 3},
			{Label: "swing_to_dump", Duration: 2},
			{Label: "dumping", Duration: 2},
			{Label: "swing_to_dig", Duration: 2},
			{Label: "idle", Duration: 1},
			{Label: "digging", Duration: 3},
			{Label: "swing_to_dump", Duration: 2},
			{Label: "dumping", Duration: 2},
			{Label: "swing_to_dig", Duration: 2},
			{Label: "idle", Duration: 2},
		},
	}
}

func TestRunner_ReplaysScenario(t *testing.T) {
	runner := NewRunner(testDeps(t, testConfig()))
	sc := twoCycleScenario("two-cycles")
	require.NoError(t, sc.Validate())

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "simulation:two-cycles", result.Source)
	assert.Equal(t, 1, result.SamplingFPS)
	assert.Equal(t, 21, result.FramesExtracted)

	require.Len(t, result.Cycles, 2)
	for _, c := range result.Cycles {
		assert.True(t, c.IsComplete())
		assert.InDelta(t, 9.0, c.Duration, 1e-9)
	}
	first := result.Cycles[0]
	assert.InDelta(t, 3.0, first.Phases.Dig, 1e-9)
	assert.InDelta(t, 2.0, first.Phases.SwingToDump, 1e-9)
	assert.InDelta(t, 2.0, first.Phases.Dump, 1e-9)
	assert.InDelta(t, 2.0, first.Phases.Return, 1e-9)

	assert.Equal(t, 2, result.Statistics.Count)
	assert.Equal(t, 2, result.Statistics.CompleteCount)
	assert.InDelta(t, 9.0, result.Statistics.SpecificAverage, 1e-9)

	assert.NotEmpty(t, result.Report.Bytes)
	assert.Equal(t, "text/markdown", result.Report.MIME)
}

func TestRunner_SourceIDOverrideFindsTelemetry(t *testing.T) {
	sidecars := t.TempDir()
	testutil.WriteJoystickStats(t, sidecars, "EX-99", 0.74)

	cfg := testConfig()
	cfg.Telemetry.Dir = sidecars

	runner := NewRunner(testDeps(t, cfg))
	sc := twoCycleScenario("with-telemetry")
	sc.SourceID = "EX-99"

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, "EX-99", result.SourceID)
	assert.Equal(t, "EX-99", result.Telemetry.SourceID)
	require.NotNil(t, result.Telemetry.Joystick)
	assert.InDelta(t, 0.74, result.Telemetry.Joystick.BCSScore, 1e-9)
	assert.False(t, result.Telemetry.Found, "joystick sidecar alone does not set the PDF metrics flag")
}

func TestRunner_ReportsProgress(t *testing.T) {
	svc := progress.NewService(testLogger())
	svc.Start()
	defer svc.Stop()

	runner := NewRunner(testDeps(t, testConfig())).WithProgressService(svc)

	sub := svc.Subscribe(nil)
	defer svc.Unsubscribe(sub.ID)

	_, err := runner.Run(context.Background(), twoCycleScenario("progress"))
	require.NoError(t, err)

	// All events are already buffered; scan for the completion.
	var completed *progress.ProgressEvent
	deadline := time.After(2 * time.Second)
	for completed == nil {
		select {
		case event := <-sub.Events:
			if event.EventType == progress.EventTypeCompleted {
				completed = event
			}
		case <-deadline:
			t.Fatal("no completion event received")
		}
	}
	assert.Equal(t, progress.OpSimulation, completed.Progress.OperationType)
	assert.Equal(t, "simulation", completed.Progress.OwnerType)
}

func TestRunner_PropagatesCancellation(t *testing.T) {
	runner := NewRunner(testDeps(t, testConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, twoCycleScenario("cancelled"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_DerivedSourceID(t *testing.T) {
	runner := NewRunner(testDeps(t, testConfig()))
	sc := twoCycleScenario("derived")

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, models.DeriveSourceID("simulation:derived"), result.SourceID)
}
