package models

// Frame is a single still image sampled from the source video. Frames are
// immutable once extracted; the image bytes live on disk under the run
// workspace and are referenced by Path.
type Frame struct {
	// Index is the 0-based position in the sampled sequence. Indices are
	// contiguous: frame N is always the (N+1)th sampled frame.
	Index int `json:"index"`

	// SourceFrame is the frame number in the original video this frame was
	// decoded from (Index * stride).
	SourceFrame int `json:"source_frame"`

	// Timestamp is seconds from the start of the video
	// (SourceFrame / native FPS).
	Timestamp float64 `json:"timestamp"`

	// Path is the JPEG file location under the run workspace.
	Path string `json:"path"`

	// Width and Height are the stored dimensions after any downscale.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Classification pairs a frame with the activity label the vision model
// assigned to it. There is exactly one Classification per Frame once the
// classify stage completes; a failed model call yields LabelIdle with
// Confidence 0 and a Note explaining the failure, so downstream stages
// always see a complete ordered sequence.
type Classification struct {
	// FrameIndex matches Frame.Index.
	FrameIndex int `json:"frame_index"`

	// Timestamp matches Frame.Timestamp (seconds).
	Timestamp float64 `json:"timestamp"`

	// Label is the validated activity label.
	Label ActivityLabel `json:"label"`

	// Confidence is the model's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Note carries soft-failure detail or model commentary. Empty for clean
	// classifications.
	Note string `json:"note,omitempty"`
}

// Event is a sparse state transition between two consecutive classifications
// with different labels. The timestamp is taken from the second (newer)
// classification; ties between events are ordered by FrameIndex.
type Event struct {
	// Kind identifies which transition rule fired.
	Kind EventKind `json:"kind"`

	// Timestamp is the time of the classification that triggered the event.
	Timestamp float64 `json:"timestamp"`

	// FrameIndex is the index of the triggering classification.
	FrameIndex int `json:"frame_index"`

	// PrevLabel and NextLabel are the labels either side of the transition.
	PrevLabel ActivityLabel `json:"prev_label"`
	NextLabel ActivityLabel `json:"next_label"`
}
