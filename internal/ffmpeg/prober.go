package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is the decoded ffprobe JSON document.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat carries the container-level fields the pipeline reads.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// ProbeStream carries the stream-level fields the pipeline reads.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
	NumFrames    string `json:"nb_frames,omitempty"`
}

// VideoInfo is the simplified view the extraction stage works from.
type VideoInfo struct {
	Source    string  `json:"source"`
	Container string  `json:"container"`
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FPS       float64 `json:"fps"`
	Duration  float64 `json:"duration_seconds"`
	Frames    int64   `json:"frames,omitempty"` // 0 when the container does not record it
	SizeBytes int64   `json:"size_bytes,omitempty"`
}

// Prober runs ffprobe against video sources.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new video prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe against a local path or http(s) URL and returns the
// parsed result.
func (p *Prober) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams"}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		// Ride out transient network hiccups on remote sources.
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	args = append(args, source)

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeVideo probes a source and returns the simplified video information
// the pipeline needs. It fails when the source carries no video stream or
// no usable frame rate.
func (p *Prober) ProbeVideo(ctx context.Context, source string) (*VideoInfo, error) {
	result, err := p.Probe(ctx, source)
	if err != nil {
		return nil, err
	}

	stream := result.GetVideoStream()
	if stream == nil {
		return nil, fmt.Errorf("no video stream found in %s", source)
	}

	info := &VideoInfo{
		Source:    source,
		Container: result.Format.FormatName,
		Codec:     stream.CodecName,
		Width:     stream.Width,
		Height:    stream.Height,
		FPS:       stream.Framerate(),
		Duration:  result.Duration(),
		Frames:    parseInt(stream.NumFrames),
		SizeBytes: parseInt(result.Format.Size),
	}

	// Some containers only record duration on the stream.
	if info.Duration == 0 {
		if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	if info.FPS <= 0 {
		return nil, fmt.Errorf("could not determine frame rate for %s", source)
	}
	return info, nil
}

// GetVideoStream returns the first video stream, or nil when there is none.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Duration returns the container duration in seconds, 0 when unrecorded.
func (r *ProbeResult) Duration() float64 {
	dur, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}

// Framerate returns the stream frame rate, preferring the average rate over
// the raw one.
func (s *ProbeStream) Framerate() float64 {
	if f := parseFramerate(s.AvgFrameRate); f > 0 {
		return f
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate parses a frame rate like "30000/1001", "25/1" or "29.97".
func parseFramerate(fr string) float64 {
	if num, den, ok := strings.Cut(fr, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(fr, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt parses an ffprobe numeric string, returning 0 on anything odd.
func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
