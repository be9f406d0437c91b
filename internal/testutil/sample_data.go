// Package testutil provides shared fixtures for pipeline and integration
// tests: scripted model endpoints, frame files on disk, classification
// timelines, and telemetry sidecars.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/digwatch/internal/models"
)

// Fixture frame dimensions, small enough to keep encode time negligible.
const (
	FrameWidth  = 64
	FrameHeight = 36
)

// WorkCycleLabels returns the label sequence of one complete work cycle at
// one-second sampling: dig, swing loaded, dump, swing empty.
func WorkCycleLabels() []models.ActivityLabel {
	return []models.ActivityLabel{
		models.LabelDigging, models.LabelDigging, models.LabelDigging,
		models.LabelSwingToDump, models.LabelSwingToDump,
		models.LabelDumping, models.LabelDumping,
		models.LabelSwingToDig, models.LabelSwingToDig,
	}
}

// RepeatCycles concatenates n copies of WorkCycleLabels, each followed by
// an idle sample, giving a timeline with n complete cycles. The separators
// matter: swing_to_dig straight into digging closes a cycle without opening
// the next one.
func RepeatCycles(n int) []models.ActivityLabel {
	cycle := WorkCycleLabels()
	ls := make([]models.ActivityLabel, 0, n*(len(cycle)+1))
	for range n {
		ls = append(ls, cycle...)
		ls = append(ls, models.LabelIdle)
	}
	return ls
}

// Classifications expands labels into a timeline sampled at fps, one label
// per frame with a fixed high confidence.
func Classifications(fps float64, ls ...models.ActivityLabel) []models.Classification {
	step := 1.0 / fps
	cs := make([]models.Classification, len(ls))
	for i, l := range ls {
		cs[i] = models.Classification{
			FrameIndex: i,
			Timestamp:  float64(i) * step,
			Label:      l,
			Confidence: 0.92,
		}
	}
	return cs
}

// WriteFrames encodes n small JPEG frames under dir, named the way the
// extraction stage names them, and returns their records at one-second
// spacing.
func WriteFrames(t testing.TB, dir string, n int) []models.Frame {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	frames := make([]models.Frame, n)
	for i := range frames {
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i+1))
		writeJPEG(t, path, uint8(40+i*7))
		frames[i] = models.Frame{
			Index:       i,
			SourceFrame: i * 25,
			Timestamp:   float64(i),
			Path:        path,
			Width:       FrameWidth,
			Height:      FrameHeight,
		}
	}
	return frames
}

// writeJPEG writes a flat gray frame. The shade varies per frame so files
// are not byte-identical.
func writeJPEG(t testing.TB, path string, shade uint8) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, FrameWidth, FrameHeight))
	for i := range img.Pix {
		img.Pix[i] = shade
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// joystickSidecar is the simulator's <id>_stats.json shape.
type joystickSidecar struct {
	SI           map[string]map[string]float64 `json:"SI"`
	BCS          float64                       `json:"BCS"`
	ControlUsage map[string]float64            `json:"control_usage"`
}

// WriteJoystickStats drops an <id>_stats.json sidecar into dir and returns
// its path.
func WriteJoystickStats(t testing.TB, dir, id string, bcs float64) string {
	t.Helper()

	sidecar := joystickSidecar{
		SI: map[string]map[string]float64{
			"Boom": {"Swing": 0.41, "Bucket": 0.18},
		},
		BCS: bcs,
		ControlUsage: map[string]float64{
			"2_controls": 31.5,
			"3_controls": 6.2,
		},
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(dir, id+"_stats.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
