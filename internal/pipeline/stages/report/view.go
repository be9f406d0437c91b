package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/pkg/format"
)

// reportData is the template view model. Every number arrives pre-formatted
// so the markdown and HTML templates stay free of formatting logic, and the
// deterministic report is byte-identical for identical input.
type reportData struct {
	SourceID       string
	Source         string
	GeneratedAt    string
	VideoDuration  string
	SamplingFPS    int
	FramesAnalyzed int

	Cycles []cycleRow
	Stats  statsView

	Telemetry *telemetryView

	Narrative     string
	NarrativeNote string

	DurationsChart string
	PhasesChart    string

	SoftFailures int
}

// cycleRow is one line of the cycle table.
type cycleRow struct {
	Number   int
	Start    string
	End      string
	Duration string
	Status   string
	Notes    string
}

// statsView formats the run statistics for display.
type statsView struct {
	TotalCycles    int
	CompleteCycles int
	PartialCycles  int

	ApproximateAverage string
	SpecificAverage    string
	IdlePerCycle       string
	IdlePercent        string
	MinDuration        string
	MaxDuration        string
	StdDeviation       string
	CyclesPerHour      string

	ConsistencyScore string
	ConsistencyTier  string
	EfficiencyTier   string
}

// telemetryView formats the enrichment record; nil when nothing was found.
type telemetryView struct {
	FuelBurned        string
	TimeSwingingLeft  string
	TimeSwingingRight string
	Joystick          *joystickView
}

// joystickView formats the control-input analytics.
type joystickView struct {
	BCS   string
	Usage []usageRow
}

// usageRow is one simultaneous-controls bucket.
type usageRow struct {
	Label string
	Value string
}

// buildView assembles the view model from the run state. Charts and
// narrative are attached by the stage afterwards.
func buildView(state *core.State) *reportData {
	data := &reportData{
		SourceID:       state.SourceID,
		Source:         state.Source,
		GeneratedAt:    state.Now().Format("2006-01-02 15:04:05 MST"),
		VideoDuration:  format.MMSS(state.VideoDuration),
		SamplingFPS:    state.SamplingFPS,
		FramesAnalyzed: state.FramesExtracted,
		Cycles:         cycleRows(state.Cycles),
		Stats:          buildStatsView(state.Statistics),
		Telemetry:      buildTelemetryView(state.Telemetry),
		SoftFailures:   state.SoftFailures,
	}
	return data
}

func cycleRows(cycles []models.Cycle) []cycleRow {
	rows := make([]cycleRow, len(cycles))
	for i := range cycles {
		c := &cycles[i]
		notes := c.Observation()
		if c.Note != "" {
			notes += "; " + c.Note
		}
		rows[i] = cycleRow{
			Number:   c.Number,
			Start:    format.MMSS(c.Start),
			End:      format.MMSS(c.End),
			Duration: format.Seconds(c.Duration),
			Status:   string(c.Completeness),
			Notes:    notes,
		}
	}
	return rows
}

func buildStatsView(stats models.CycleStatistics) statsView {
	idlePercent := 0.0
	if stats.ApproximateAverage > 0 {
		idlePercent = stats.IdlePerCycle / stats.ApproximateAverage * 100
	}

	return statsView{
		TotalCycles:        stats.Count,
		CompleteCycles:     stats.CompleteCount,
		PartialCycles:      stats.Count - stats.CompleteCount,
		ApproximateAverage: format.Seconds(stats.ApproximateAverage),
		SpecificAverage:    format.Seconds(stats.SpecificAverage),
		IdlePerCycle:       format.Seconds(stats.IdlePerCycle),
		IdlePercent:        format.Percentage(idlePercent, 1),
		MinDuration:        format.Seconds(stats.MinDuration),
		MaxDuration:        format.Seconds(stats.MaxDuration),
		StdDeviation:       format.Seconds(stats.StdDev),
		CyclesPerHour:      fmt.Sprintf("%.1f", stats.CyclesPerHour),
		ConsistencyScore:   fmt.Sprintf("%.1f", stats.ConsistencyScore),
		ConsistencyTier:    consistencyTier(stats.ConsistencyScore),
		EfficiencyTier:     efficiencyTier(idlePercent),
	}
}

func buildTelemetryView(record models.TelemetryRecord) *telemetryView {
	if !record.Found && record.Joystick == nil {
		return nil
	}

	view := &telemetryView{
		FuelBurned:        fmt.Sprintf("%.2f L", record.FuelBurnedLitres),
		TimeSwingingLeft:  format.Seconds(record.SwingLeftSeconds),
		TimeSwingingRight: format.Seconds(record.SwingRightSeconds),
	}
	if js := record.Joystick; js != nil {
		view.Joystick = &joystickView{
			BCS:   fmt.Sprintf("%.2f", js.BCSScore),
			Usage: usageRows(js.ControlUsage),
		}
	}
	return view
}

func usageRows(usage map[string]float64) []usageRow {
	keys := make([]string, 0, len(usage))
	for k := range usage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]usageRow, len(keys))
	for i, k := range keys {
		rows[i] = usageRow{
			Label: strings.ReplaceAll(k, "_", " "),
			Value: format.Percentage(usage[k], 1),
		}
	}
	return rows
}

// consistencyTier maps the consistency score (100 minus the coefficient of
// variation in percent) onto a verbal band.
func consistencyTier(score float64) string {
	switch {
	case score >= 85:
		return "Highly consistent"
	case score >= 70:
		return "Consistent"
	case score >= 50:
		return "Somewhat variable"
	default:
		return "Highly variable"
	}
}

// efficiencyTier maps the idle share of total cycle time onto a verbal band.
func efficiencyTier(idlePercent float64) string {
	switch {
	case idlePercent < 10:
		return "Excellent"
	case idlePercent < 20:
		return "Good"
	case idlePercent < 35:
		return "Fair"
	default:
		return "Needs improvement"
	}
}
