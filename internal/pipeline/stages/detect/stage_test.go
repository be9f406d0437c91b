package detect

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// labels builds a classification sequence at one-second spacing.
func labels(ls ...models.ActivityLabel) []models.Classification {
	cs := make([]models.Classification, len(ls))
	for i, l := range ls {
		cs[i] = models.Classification{
			FrameIndex: i,
			Timestamp:  float64(i),
			Label:      l,
			Confidence: 0.9,
		}
	}
	return cs
}

func kinds(events []models.Event) []models.EventKind {
	out := make([]models.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestStage_Interface(t *testing.T) {
	stage := New()
	assert.Equal(t, StageID, stage.ID())
	assert.Equal(t, StageName, stage.Name())
}

func TestNewConstructor(t *testing.T) {
	constructor := NewConstructor()
	stage := constructor(&core.Dependencies{})
	assert.NotNil(t, stage)
	assert.Equal(t, StageID, stage.ID())
}

func TestDetectEvents_FullCycle(t *testing.T) {
	cs := labels(
		models.LabelIdle,
		models.LabelDigging,
		models.LabelSwingToDump,
		models.LabelDumping,
		models.LabelSwingToDig,
		models.LabelDigging,
	)

	events := DetectEvents(cs)

	assert.Equal(t, []models.EventKind{
		models.EventDigStart,
		models.EventDigEnd,
		models.EventDumpStart,
		models.EventDumpEnd,
		models.EventReturnToDig,
	}, kinds(events))
}

func TestDetectEvents_OpensMidDig(t *testing.T) {
	// The first classification is compared against idle, so a video that
	// opens on a dig emits dig_start at frame 0.
	cs := labels(models.LabelDigging, models.LabelDigging)

	events := DetectEvents(cs)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventDigStart, events[0].Kind)
	assert.Equal(t, 0, events[0].FrameIndex)
	assert.Equal(t, models.LabelIdle, events[0].PrevLabel)
	assert.Equal(t, models.LabelDigging, events[0].NextLabel)
}

func TestDetectEvents_ConsecutiveIdenticalLabels(t *testing.T) {
	cs := labels(
		models.LabelIdle,
		models.LabelIdle,
		models.LabelDigging,
		models.LabelDigging,
		models.LabelDigging,
	)

	events := DetectEvents(cs)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDigStart, events[0].Kind)
	assert.Equal(t, 2, events[0].FrameIndex)
}

func TestDetectEvents_TimestampFromTriggeringFrame(t *testing.T) {
	cs := []models.Classification{
		{FrameIndex: 0, Timestamp: 0.0, Label: models.LabelIdle},
		{FrameIndex: 1, Timestamp: 0.33, Label: models.LabelDigging},
	}

	events := DetectEvents(cs)
	require.Len(t, events, 1)

	want := models.Event{
		Kind:       models.EventDigStart,
		Timestamp:  0.33,
		FrameIndex: 1,
		PrevLabel:  models.LabelIdle,
		NextLabel:  models.LabelDigging,
	}
	if diff := cmp.Diff(want, events[0]); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectEvents_Empty(t *testing.T) {
	assert.Empty(t, DetectEvents(nil))
	assert.Empty(t, DetectEvents([]models.Classification{}))
}

func TestDetectEvents_AllIdle(t *testing.T) {
	cs := labels(models.LabelIdle, models.LabelIdle, models.LabelIdle)
	assert.Empty(t, DetectEvents(cs))
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name string
		prev models.ActivityLabel
		next models.ActivityLabel
		want models.EventKind
		ok   bool
	}{
		{"idle to digging", models.LabelIdle, models.LabelDigging, models.EventDigStart, true},
		{"swing_to_dump to digging", models.LabelSwingToDump, models.LabelDigging, models.EventDigStart, true},
		{"dumping to digging", models.LabelDumping, models.LabelDigging, models.EventDigStart, true},
		{"digging to swing_to_dump", models.LabelDigging, models.LabelSwingToDump, models.EventDigEnd, true},
		{"digging to idle", models.LabelDigging, models.LabelIdle, models.EventDigEnd, true},
		{"swing_to_dump to dumping", models.LabelSwingToDump, models.LabelDumping, models.EventDumpStart, true},
		{"idle to dumping", models.LabelIdle, models.LabelDumping, models.EventDumpStart, true},
		{"digging to dumping", models.LabelDigging, models.LabelDumping, models.EventDumpStart, true},
		{"dumping to swing_to_dig", models.LabelDumping, models.LabelSwingToDig, models.EventDumpEnd, true},
		{"dumping to idle", models.LabelDumping, models.LabelIdle, models.EventDumpEnd, true},
		{"swing_to_dig to digging", models.LabelSwingToDig, models.LabelDigging, models.EventReturnToDig, true},
		{"swing_to_dig to idle", models.LabelSwingToDig, models.LabelIdle, models.EventReturnToDig, true},
		{"idle to swing_to_dump", models.LabelIdle, models.LabelSwingToDump, "", false},
		{"idle to swing_to_dig", models.LabelIdle, models.LabelSwingToDig, "", false},
		{"swing_to_dump to idle", models.LabelSwingToDump, models.LabelIdle, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := transition(tt.prev, tt.next)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}

func TestStage_Execute(t *testing.T) {
	state := core.NewState("run1", "B6.mp4", "B6")
	state.Classifications = labels(
		models.LabelIdle,
		models.LabelDigging,
		models.LabelSwingToDump,
	)

	stage := New()
	result, err := stage.Execute(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Len(t, state.Events, 2)
	// Classifications stay on the state; the assembler releases them.
	assert.Len(t, state.Classifications, 3)
}
