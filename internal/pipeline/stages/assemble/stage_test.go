package assemble

import (
	"context"
	"testing"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ev is shorthand for a transition event at a timestamp.
func ev(kind models.EventKind, ts float64) models.Event {
	return models.Event{Kind: kind, Timestamp: ts}
}

// fullCycle returns the five events of one clean cycle starting at base.
// Phase boundaries land at +4, +7, +9 and +12 seconds, so the cycle runs
// 12 seconds with phases 4/3/2/3.
func fullCycle(base float64) []models.Event {
	return []models.Event{
		ev(models.EventDigStart, base),
		ev(models.EventDigEnd, base+4),
		ev(models.EventDumpStart, base+7),
		ev(models.EventDumpEnd, base+9),
		ev(models.EventReturnToDig, base+12),
	}
}

func newAssembler() *Assembler {
	return NewAssembler(DefaultCompleteSeconds, DefaultPartialSeconds, nil)
}

func TestStage_Interface(t *testing.T) {
	stage := New()
	assert.Equal(t, StageID, stage.ID())
	assert.Equal(t, StageName, stage.Name())
}

func TestNewConstructor_UsesConfigGates(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.CompleteCycleSeconds = 10
	cfg.Pipeline.PartialCycleSeconds = 6

	constructor := NewConstructor()
	stage := constructor(&core.Dependencies{Config: cfg}).(*Stage)

	assert.Equal(t, 10.0, stage.completeSeconds)
	assert.Equal(t, 6.0, stage.partialSeconds)
}

func TestAssemble_SingleCompleteCycle(t *testing.T) {
	cycles := newAssembler().Assemble(fullCycle(10))

	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, 1, c.Number)
	assert.Equal(t, models.CycleComplete, c.Completeness)
	assert.Equal(t, 10.0, c.Start)
	assert.Equal(t, 22.0, c.End)
	assert.Equal(t, 12.0, c.Duration)
	assert.Equal(t, models.PhaseDurations{Dig: 4, SwingToDump: 3, Dump: 2, Return: 3}, c.Phases)
	assert.Empty(t, c.Note)
}

func TestAssemble_BackToBackCycles(t *testing.T) {
	events := append(fullCycle(0), fullCycle(15)...)

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 2)
	assert.Equal(t, 1, cycles[0].Number)
	assert.Equal(t, 2, cycles[1].Number)
	assert.Equal(t, 15.0, cycles[1].Start)
	assert.True(t, cycles[0].IsComplete())
	assert.True(t, cycles[1].IsComplete())
}

func TestAssemble_DigStartCutsOpenCycle(t *testing.T) {
	// The first cycle digs and swings out but never dumps before the next
	// dig begins. It survives as a partial; the second completes normally.
	events := []models.Event{
		ev(models.EventDigStart, 0),
		ev(models.EventDigEnd, 4),
	}
	events = append(events, fullCycle(8)...)

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 2)
	assert.Equal(t, models.CyclePartial, cycles[0].Completeness)
	assert.Equal(t, 4.0, cycles[0].Duration)
	assert.Contains(t, cycles[0].Note, "new dig")
	assert.Equal(t, models.CycleComplete, cycles[1].Completeness)
}

func TestAssemble_EndOfStreamPartial(t *testing.T) {
	events := []models.Event{
		ev(models.EventDigStart, 0),
		ev(models.EventDigEnd, 5),
		ev(models.EventDumpStart, 8),
	}

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, models.CyclePartial, c.Completeness)
	assert.Equal(t, 8.0, c.Duration)
	assert.Equal(t, 8.0, c.End)
	assert.Contains(t, c.Note, "end of video")
	assert.Equal(t, models.PhaseDurations{Dig: 5, SwingToDump: 3}, c.Phases)
}

func TestAssemble_PartialGateRequiresDigPhase(t *testing.T) {
	// dig_start alone, even with a long wait, never forms a cycle: the
	// partial gate requires the dig phase to have closed.
	events := []models.Event{
		ev(models.EventDigStart, 0),
		ev(models.EventDigStart, 20),
		ev(models.EventDigEnd, 24),
	}

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 1)
	assert.Equal(t, 20.0, cycles[0].Start)
}

func TestAssemble_PartialGateRequiresMinimumDuration(t *testing.T) {
	events := []models.Event{
		ev(models.EventDigStart, 0),
		ev(models.EventDigEnd, 2), // 2s < 3s partial gate
	}

	cycles := newAssembler().Assemble(events)
	assert.Empty(t, cycles)
}

func TestAssemble_ShortCompleteCycleDowngraded(t *testing.T) {
	// All four phases present but total under the 5s complete gate: the
	// cycle is kept as a partial (it clears the 3s partial gate).
	events := []models.Event{
		ev(models.EventDigStart, 0),
		ev(models.EventDigEnd, 1),
		ev(models.EventDumpStart, 2),
		ev(models.EventDumpEnd, 3),
		ev(models.EventReturnToDig, 4),
	}

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 1)
	assert.Equal(t, models.CyclePartial, cycles[0].Completeness)
	assert.Equal(t, 4.0, cycles[0].Duration)
	assert.Contains(t, cycles[0].Note, "complete gate")
}

func TestAssemble_UnexpectedEventsIgnored(t *testing.T) {
	// dump_end before any dump_start and return_to_dig from IDLE are
	// dropped without disturbing the cycle in progress.
	events := []models.Event{
		ev(models.EventReturnToDig, 1),
		ev(models.EventDigStart, 2),
		ev(models.EventDumpEnd, 3),
		ev(models.EventDigEnd, 6),
		ev(models.EventDumpStart, 9),
		ev(models.EventDumpEnd, 11),
		ev(models.EventReturnToDig, 14),
	}

	cycles := newAssembler().Assemble(events)

	require.Len(t, cycles, 1)
	assert.Equal(t, models.CycleComplete, cycles[0].Completeness)
	assert.Equal(t, 2.0, cycles[0].Start)
	assert.Equal(t, 12.0, cycles[0].Duration)
}

func TestAssemble_Empty(t *testing.T) {
	assert.Empty(t, newAssembler().Assemble(nil))
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil)
	assert.True(t, stats.IsZero())
	assert.Zero(t, stats.CyclesPerHour)
}

func TestComputeStatistics_SingleCycle(t *testing.T) {
	cycles := []models.Cycle{
		{Number: 1, Start: 10, End: 22, Duration: 12, Completeness: models.CycleComplete},
	}

	stats := ComputeStatistics(cycles)

	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.CompleteCount)
	assert.Equal(t, 12.0, stats.SpecificAverage)
	assert.Equal(t, 12.0, stats.ApproximateAverage)
	assert.Equal(t, 0.0, stats.IdlePerCycle)
	assert.Equal(t, 12.0, stats.MinDuration)
	assert.Equal(t, 12.0, stats.MaxDuration)
	assert.Equal(t, 0.0, stats.StdDev)
	assert.Equal(t, 300.0, stats.CyclesPerHour)
	assert.Equal(t, 100.0, stats.ConsistencyScore)
}

func TestComputeStatistics_TwoAverages(t *testing.T) {
	// Two 10-second cycles separated by a 10-second gap: specific average
	// stays 10, approximate average spreads the 30-second span across both.
	cycles := []models.Cycle{
		{Number: 1, Start: 0, End: 10, Duration: 10, Completeness: models.CycleComplete},
		{Number: 2, Start: 20, End: 30, Duration: 10, Completeness: models.CycleComplete},
	}

	stats := ComputeStatistics(cycles)

	assert.Equal(t, 10.0, stats.SpecificAverage)
	assert.Equal(t, 15.0, stats.ApproximateAverage)
	assert.Equal(t, 5.0, stats.IdlePerCycle)
	assert.Equal(t, 0.0, stats.StdDev)
	assert.Equal(t, 100.0, stats.ConsistencyScore)
}

func TestComputeStatistics_Spread(t *testing.T) {
	cycles := []models.Cycle{
		{Number: 1, Start: 0, End: 8, Duration: 8, Completeness: models.CycleComplete},
		{Number: 2, Start: 8, End: 20, Duration: 12, Completeness: models.CyclePartial},
	}

	stats := ComputeStatistics(cycles)

	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.CompleteCount)
	assert.Equal(t, 10.0, stats.SpecificAverage)
	assert.Equal(t, 8.0, stats.MinDuration)
	assert.Equal(t, 12.0, stats.MaxDuration)
	assert.InDelta(t, 2.0, stats.StdDev, 1e-9)
	assert.InDelta(t, 80.0, stats.ConsistencyScore, 1e-9)
	assert.InDelta(t, 360.0, stats.CyclesPerHour, 1e-9)
}

func TestComputeStatistics_IdleNeverNegative(t *testing.T) {
	// Overlap-free back-to-back cycles make the approximate average equal
	// the specific one; floating error must not push idle below zero.
	cycles := []models.Cycle{
		{Number: 1, Start: 0, End: 10, Duration: 10},
		{Number: 2, Start: 10, End: 20, Duration: 10},
	}

	stats := ComputeStatistics(cycles)
	assert.GreaterOrEqual(t, stats.IdlePerCycle, 0.0)
}

func TestStage_Execute(t *testing.T) {
	state := core.NewState("run1", "B6.mp4", "B6")
	state.Classifications = []models.Classification{{FrameIndex: 0}}
	state.Events = fullCycle(0)

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsProcessed)
	require.Len(t, state.Cycles, 1)
	assert.Equal(t, 1, state.Statistics.Count)
	assert.Nil(t, state.Classifications, "classifications released after assembly")
}
