package models

// CycleStatistics aggregates a run's cycles. Two different averages are
// reported: the specific average counts only time inside cycles, the
// approximate average spreads the whole observed span (including gaps
// between cycles) across the cycle count.
type CycleStatistics struct {
	// Count is the number of cycles (complete + partial) that survived
	// assembly.
	Count int `json:"count"`

	// CompleteCount is the number of cycles with all four phases.
	CompleteCount int `json:"complete_count"`

	// SpecificAverage is sum(duration) / count: pure work time per cycle.
	SpecificAverage float64 `json:"specific_average"`

	// ApproximateAverage is (last cycle end - first cycle start) / count:
	// wall-clock time per cycle including idle gaps.
	ApproximateAverage float64 `json:"approximate_average"`

	// IdlePerCycle is ApproximateAverage - SpecificAverage, never negative.
	IdlePerCycle float64 `json:"idle_per_cycle"`

	// MinDuration and MaxDuration bound the individual cycle durations.
	MinDuration float64 `json:"min_duration"`
	MaxDuration float64 `json:"max_duration"`

	// StdDev is the population standard deviation of cycle durations
	// (0 when Count <= 1).
	StdDev float64 `json:"std_dev"`

	// CyclesPerHour projects throughput from the specific average
	// (3600 / SpecificAverage; 0 when no cycles).
	CyclesPerHour float64 `json:"cycles_per_hour"`

	// ConsistencyScore is 100 minus the coefficient of variation in
	// percent, floored at 0. Higher means steadier cycle times.
	ConsistencyScore float64 `json:"consistency_score"`
}

// IsZero reports whether the statistics describe an empty run.
func (s CycleStatistics) IsZero() bool {
	return s.Count == 0
}
