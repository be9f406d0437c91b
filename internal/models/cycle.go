package models

import "strings"

// Completeness classifies how much of a work cycle was observed.
type Completeness string

const (
	// CycleComplete means the cycle traversed all four phases and passed the
	// minimum-duration gate.
	CycleComplete Completeness = "complete"
	// CyclePartial means the cycle contains at least a dig phase but was cut
	// short (end of stream or a new dig_start).
	CyclePartial Completeness = "partial"
)

// PhaseDurations holds the four sub-segment durations of a cycle in seconds.
// A phase the events never closed is zero.
type PhaseDurations struct {
	Dig         float64 `json:"dig"`
	SwingToDump float64 `json:"swing_to_dump"`
	Dump        float64 `json:"dump"`
	Return      float64 `json:"return"`
}

// Sum returns the total of the four phase durations.
func (p PhaseDurations) Sum() float64 {
	return p.Dig + p.SwingToDump + p.Dump + p.Return
}

// AllPositive reports whether every phase has a positive duration.
func (p PhaseDurations) AllPositive() bool {
	return p.Dig > 0 && p.SwingToDump > 0 && p.Dump > 0 && p.Return > 0
}

// Count returns how many phases were observed (non-zero).
func (p PhaseDurations) Count() int {
	n := 0
	for _, d := range []float64{p.Dig, p.SwingToDump, p.Dump, p.Return} {
		if d > 0 {
			n++
		}
	}
	return n
}

// Cycle is one validated unit of work: dig, swing out, dump, swing back.
// Cycles that pass neither the complete nor the partial gate are discarded
// by the assembler and never appear downstream.
type Cycle struct {
	// Number is 1-based, assigned in the order cycles are closed.
	Number int `json:"number"`

	// Start is the timestamp of the opening dig_start event (seconds).
	Start float64 `json:"start"`

	// End is the timestamp of the closing return_to_dig event, or for
	// partial cycles the last observed event before the cutoff.
	End float64 `json:"end"`

	// Duration is End - Start in seconds.
	Duration float64 `json:"duration"`

	// Phases breaks the cycle into its four sub-segments.
	Phases PhaseDurations `json:"phases"`

	// Completeness is CycleComplete or CyclePartial.
	Completeness Completeness `json:"completeness"`

	// Note carries assembler commentary (e.g. why a cycle ended early).
	Note string `json:"note,omitempty"`
}

// IsComplete reports whether the cycle traversed all four phases.
func (c *Cycle) IsComplete() bool {
	return c.Completeness == CycleComplete
}

// Observation summarizes the cycle qualitatively for the report:
// incompleteness, unusually short or long dig phases, and missing phases.
func (c *Cycle) Observation() string {
	var obs []string

	if !c.IsComplete() {
		obs = append(obs, "Incomplete cycle")
	}

	if c.Phases.Dig > 0 {
		if c.Phases.Dig < 3 {
			obs = append(obs, "Quick dig")
		} else if c.Phases.Dig > 8 {
			obs = append(obs, "Extended dig")
		}
	}

	if c.Phases.Count() < 4 {
		obs = append(obs, "Missing phases")
	}

	if len(obs) == 0 {
		obs = append(obs, "Normal cycle")
	}

	return strings.Join(obs, ", ")
}
