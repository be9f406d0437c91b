// Package simulate replays synthetic classification timelines through the
// post-classification pipeline stages. A scenario stands in for the video
// and the vision model: event detection, cycle assembly, telemetry
// enrichment, and report generation all run exactly as they do for a real
// analysis.
package simulate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/digwatch/internal/models"
)

// defaultConfidence is assigned to synthetic classifications unless the
// segment sets its own.
const defaultConfidence = 0.95

// Scenario describes one synthetic activity timeline.
type Scenario struct {
	// Name identifies the scenario in run records and progress events.
	Name string `yaml:"name"`

	// SourceID overrides the derived source identifier. Telemetry sidecar
	// lookup uses it, so scenarios can exercise enrichment.
	SourceID string `yaml:"source_id"`

	// SamplingFPS is the synthetic sampling rate (1, 3, 5, or 10).
	SamplingFPS int `yaml:"sampling_fps"`

	// Segments is the activity timeline in order.
	Segments []Segment `yaml:"segments"`
}

// Segment is one contiguous stretch of a single activity.
type Segment struct {
	// Label is the activity name (digging, swing_to_dump, dumping,
	// swing_to_dig, idle).
	Label string `yaml:"label"`

	// Duration is the stretch length in seconds.
	Duration float64 `yaml:"duration"`

	// Confidence overrides the default classification confidence.
	Confidence float64 `yaml:"confidence,omitempty"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	if sc.SamplingFPS == 0 {
		sc.SamplingFPS = 1
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// validSamplingRates mirrors the live pipeline's supported rates.
var validSamplingRates = map[int]bool{1: true, 3: true, 5: true, 10: true}

// Validate checks the scenario for contradictions before it is replayed.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if !validSamplingRates[sc.SamplingFPS] {
		return fmt.Errorf("sampling_fps must be one of: 1, 3, 5, 10")
	}
	if len(sc.Segments) == 0 {
		return fmt.Errorf("scenario needs at least one segment")
	}
	for i, seg := range sc.Segments {
		if _, ok := models.ParseLabel(seg.Label); !ok {
			return fmt.Errorf("segment %d: unknown label %q", i+1, seg.Label)
		}
		if seg.Duration <= 0 {
			return fmt.Errorf("segment %d: duration must be positive", i+1)
		}
		if seg.Confidence < 0 || seg.Confidence > 1 {
			return fmt.Errorf("segment %d: confidence must be within [0, 1]", i+1)
		}
	}
	return nil
}

// TotalDuration returns the timeline length in seconds.
func (sc *Scenario) TotalDuration() float64 {
	var total float64
	for _, seg := range sc.Segments {
		total += seg.Duration
	}
	return total
}

// Classifications expands the segments into the per-frame timeline the
// classification stage would have produced. Samples fall on the fps grid,
// so a segment shorter than one sampling interval can be skipped entirely,
// just as a real short activity can fall between sampled frames.
func (sc *Scenario) Classifications() []models.Classification {
	fps := float64(sc.SamplingFPS)

	var cs []models.Classification
	var segEnd float64
	index := 0

	for _, seg := range sc.Segments {
		label, _ := models.ParseLabel(seg.Label)
		confidence := seg.Confidence
		if confidence == 0 {
			confidence = defaultConfidence
		}
		segEnd += seg.Duration

		// Timestamps come from the sample index, not accumulation, so long
		// scenarios do not drift off the grid.
		for {
			t := float64(index) / fps
			if t >= segEnd {
				break
			}
			cs = append(cs, models.Classification{
				FrameIndex: index,
				Timestamp:  t,
				Label:      label,
				Confidence: confidence,
			})
			index++
		}
	}
	return cs
}
