package assemble

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/jmylchreest/digwatch/internal/models"
)

// machineState tracks where the assembler is inside a cycle.
type machineState int

const (
	stateIdle machineState = iota
	stateInDig
	stateInSwingOut
	stateInDump
	stateInSwingBack
)

func (s machineState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateInDig:
		return "IN_DIG"
	case stateInSwingOut:
		return "IN_SWING_OUT"
	case stateInDump:
		return "IN_DUMP"
	case stateInSwingBack:
		return "IN_SWING_BACK"
	}
	return "UNKNOWN"
}

// openCycle accumulates phase boundaries while a cycle is in flight. A zero
// boundary means the corresponding event was never seen.
type openCycle struct {
	start     float64
	digEnd    float64
	dumpStart float64
	dumpEnd   float64
	returnEnd float64
	last      float64
	hasDigEnd bool
}

// phases derives the four phase durations from the boundaries recorded so
// far. Phases whose closing event never arrived stay zero.
func (c *openCycle) phases() models.PhaseDurations {
	var p models.PhaseDurations
	if c.hasDigEnd {
		p.Dig = c.digEnd - c.start
	}
	if c.dumpStart > 0 && c.hasDigEnd {
		p.SwingToDump = c.dumpStart - c.digEnd
	}
	if c.dumpEnd > 0 && c.dumpStart > 0 {
		p.Dump = c.dumpEnd - c.dumpStart
	}
	if c.returnEnd > 0 && c.dumpEnd > 0 {
		p.Return = c.returnEnd - c.dumpEnd
	}
	return p
}

// Assembler groups transition events into validated cycles. Thresholds are
// the minimum durations for the complete and partial gates, in seconds.
type Assembler struct {
	completeSeconds float64
	partialSeconds  float64
	logger          *slog.Logger
}

// NewAssembler creates an Assembler with the given duration gates. A nil
// logger silences the unexpected-event notes.
func NewAssembler(completeSeconds, partialSeconds float64, logger *slog.Logger) *Assembler {
	return &Assembler{
		completeSeconds: completeSeconds,
		partialSeconds:  partialSeconds,
		logger:          logger,
	}
}

// Assemble runs the cycle state machine over the ordered events. dig_start
// in any non-IDLE state closes the current cycle as a partial candidate and
// opens a new one; at end of stream a non-IDLE machine yields one final
// partial candidate. Candidates failing both gates are discarded.
func (a *Assembler) Assemble(events []models.Event) []models.Cycle {
	var cycles []models.Cycle
	st := stateIdle
	var cur *openCycle

	for _, ev := range events {
		if ev.Kind == models.EventDigStart {
			if st != stateIdle && cur != nil {
				if c, ok := a.closePartial(cur, len(cycles)+1, "cut short by a new dig"); ok {
					cycles = append(cycles, c)
				}
			}
			cur = &openCycle{start: ev.Timestamp, last: ev.Timestamp}
			st = stateInDig
			continue
		}

		switch {
		case st == stateInDig && ev.Kind == models.EventDigEnd:
			cur.digEnd = ev.Timestamp
			cur.hasDigEnd = true
			cur.last = ev.Timestamp
			st = stateInSwingOut
		case st == stateInSwingOut && ev.Kind == models.EventDumpStart:
			cur.dumpStart = ev.Timestamp
			cur.last = ev.Timestamp
			st = stateInDump
		case st == stateInDump && ev.Kind == models.EventDumpEnd:
			cur.dumpEnd = ev.Timestamp
			cur.last = ev.Timestamp
			st = stateInSwingBack
		case st == stateInSwingBack && ev.Kind == models.EventReturnToDig:
			cur.returnEnd = ev.Timestamp
			cur.last = ev.Timestamp
			if c, ok := a.closeCycle(cur, len(cycles)+1); ok {
				cycles = append(cycles, c)
			}
			cur = nil
			st = stateIdle
		default:
			if a.logger != nil {
				a.logger.Debug("ignoring unexpected event",
					slog.String("event", ev.Kind.String()),
					slog.String("state", st.String()),
					slog.Float64("timestamp", ev.Timestamp))
			}
		}
	}

	if st != stateIdle && cur != nil {
		if c, ok := a.closePartial(cur, len(cycles)+1, "cut short at end of video"); ok {
			cycles = append(cycles, c)
		}
	}

	return cycles
}

// closeCycle finalizes a cycle that reached IDLE via return_to_dig. If it
// misses the complete gate it is downgraded to a partial candidate.
func (a *Assembler) closeCycle(cur *openCycle, number int) (models.Cycle, bool) {
	duration := cur.returnEnd - cur.start
	phases := cur.phases()

	if duration >= a.completeSeconds && phases.AllPositive() {
		return models.Cycle{
			Number:       number,
			Start:        cur.start,
			End:          cur.returnEnd,
			Duration:     duration,
			Phases:       phases,
			Completeness: models.CycleComplete,
		}, true
	}

	return a.closePartial(cur, number, fmt.Sprintf("below %.0fs complete gate", a.completeSeconds))
}

// closePartial applies the partial gate: at least a dig phase (dig_start and
// dig_end) and last observed event at least partialSeconds past the start.
func (a *Assembler) closePartial(cur *openCycle, number int, note string) (models.Cycle, bool) {
	duration := cur.last - cur.start
	if !cur.hasDigEnd || duration < a.partialSeconds {
		if a.logger != nil {
			a.logger.Debug("discarding cycle candidate",
				slog.Float64("start", cur.start),
				slog.Float64("duration", duration),
				slog.Bool("has_dig_phase", cur.hasDigEnd))
		}
		return models.Cycle{}, false
	}

	return models.Cycle{
		Number:       number,
		Start:        cur.start,
		End:          cur.last,
		Duration:     duration,
		Phases:       cur.phases(),
		Completeness: models.CyclePartial,
		Note:         note,
	}, true
}

// ComputeStatistics aggregates the cycles into run-level statistics. The
// standard deviation is the population form; zero or one cycle yields zero.
func ComputeStatistics(cycles []models.Cycle) models.CycleStatistics {
	stats := models.CycleStatistics{Count: len(cycles)}
	if len(cycles) == 0 {
		return stats
	}

	durations := make([]float64, len(cycles))
	for i, c := range cycles {
		durations[i] = c.Duration
		if c.IsComplete() {
			stats.CompleteCount++
		}
	}

	stats.SpecificAverage = stat.Mean(durations, nil)
	stats.ApproximateAverage = (cycles[len(cycles)-1].End - cycles[0].Start) / float64(len(cycles))
	stats.IdlePerCycle = math.Max(0, stats.ApproximateAverage-stats.SpecificAverage)
	stats.MinDuration = floats.Min(durations)
	stats.MaxDuration = floats.Max(durations)
	if len(durations) > 1 {
		stats.StdDev = stat.PopStdDev(durations, nil)
	}

	if stats.SpecificAverage > 0 {
		stats.CyclesPerHour = 3600 / stats.SpecificAverage
		cv := stats.StdDev / stats.SpecificAverage * 100
		stats.ConsistencyScore = math.Max(0, 100-cv)
	}

	return stats
}
