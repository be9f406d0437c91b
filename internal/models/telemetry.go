package models

// TelemetryRecord carries optional external measurements matched to the
// source by its derived identifier. A missing or unparseable telemetry file
// never fails a run; it just leaves Found false.
type TelemetryRecord struct {
	// Found is true when at least one metric was parsed from the PDF.
	Found bool `json:"found"`

	// SourceID is the identifier the telemetry was looked up under.
	SourceID string `json:"source_id,omitempty"`

	// FuelBurnedLitres is the reported fuel consumption.
	FuelBurnedLitres float64 `json:"fuel_burned_litres"`

	// SwingLeftSeconds and SwingRightSeconds are the reported per-direction
	// swing times.
	SwingLeftSeconds  float64 `json:"swing_left_seconds"`
	SwingRightSeconds float64 `json:"swing_right_seconds"`

	// Joystick holds optional control-input analytics when a matching
	// stats file exists next to the PDF.
	Joystick *JoystickStats `json:"joystick,omitempty"`
}

// JoystickStats summarizes operator control-input quality from an optional
// <id>_stats.json file: a bimanual coordination score plus how often the
// operator drove multiple controls at once.
type JoystickStats struct {
	// BCSScore is the bimanual coordination score in [0,1].
	BCSScore float64 `json:"bcs_score"`

	// ControlUsage maps control counts ("2_controls", "3_controls",
	// "4_controls") to the percentage of time spent at that level.
	ControlUsage map[string]float64 `json:"control_usage,omitempty"`

	// SimultaneityIndex is the raw control-vs-control SI matrix
	// (e.g. Boom x Swing).
	SimultaneityIndex map[string]map[string]float64 `json:"simultaneity_index,omitempty"`
}
