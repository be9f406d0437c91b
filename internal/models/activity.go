package models

import "strings"

// ActivityLabel is one of the fixed per-frame activity classes produced by
// the vision model. Anything outside this set is coerced to LabelIdle with a
// note by the classifier.
type ActivityLabel string

const (
	// LabelDigging indicates the bucket is engaged with material.
	LabelDigging ActivityLabel = "digging"
	// LabelSwingToDump indicates a loaded swing toward the dump target.
	LabelSwingToDump ActivityLabel = "swing_to_dump"
	// LabelDumping indicates material being released.
	LabelDumping ActivityLabel = "dumping"
	// LabelSwingToDig indicates an empty swing back to the dig face.
	LabelSwingToDig ActivityLabel = "swing_to_dig"
	// LabelIdle indicates no productive motion.
	LabelIdle ActivityLabel = "idle"
)

// ActivityLabels lists the permitted labels in a stable order.
var ActivityLabels = []ActivityLabel{
	LabelDigging,
	LabelSwingToDump,
	LabelDumping,
	LabelSwingToDig,
	LabelIdle,
}

// Valid reports whether the label belongs to the fixed activity set.
func (l ActivityLabel) Valid() bool {
	switch l {
	case LabelDigging, LabelSwingToDump, LabelDumping, LabelSwingToDig, LabelIdle:
		return true
	}
	return false
}

// ParseLabel normalizes a raw label string (case, surrounding whitespace)
// and validates it. Unknown values return LabelIdle and false.
func ParseLabel(s string) (ActivityLabel, bool) {
	label := ActivityLabel(strings.ToLower(strings.TrimSpace(s)))
	if label.Valid() {
		return label, true
	}
	return LabelIdle, false
}

// String returns the wire representation of the label.
func (l ActivityLabel) String() string {
	return string(l)
}

// EventKind identifies a state transition in the activity stream.
type EventKind string

const (
	// EventDigStart marks any -> digging.
	EventDigStart EventKind = "dig_start"
	// EventDigEnd marks digging -> swing_to_dump or digging -> idle.
	EventDigEnd EventKind = "dig_end"
	// EventDumpStart marks any -> dumping.
	EventDumpStart EventKind = "dump_start"
	// EventDumpEnd marks dumping -> swing_to_dig or dumping -> idle.
	EventDumpEnd EventKind = "dump_end"
	// EventReturnToDig marks swing_to_dig -> digging or swing_to_dig -> idle.
	EventReturnToDig EventKind = "return_to_dig"
)

// Valid reports whether the event kind belongs to the fixed set.
func (k EventKind) Valid() bool {
	switch k {
	case EventDigStart, EventDigEnd, EventDumpStart, EventDumpEnd, EventReturnToDig:
		return true
	}
	return false
}

// String returns the wire representation of the event kind.
func (k EventKind) String() string {
	return string(k)
}
