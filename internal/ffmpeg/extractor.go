package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	// Registers the JPEG decoder for image.DecodeConfig.
	_ "image/jpeg"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}

	// ErrOpenSource indicates ffmpeg could not open or read the source at all.
	ErrOpenSource = errors.New("could not open source")

	// ErrUnreadableFrames indicates too many consecutive frames in the MJPEG
	// stream failed to decode.
	ErrUnreadableFrames = errors.New("too many consecutive unreadable frames")
)

const (
	// maxConsecutiveBadFrames is how many unreadable frames in a row are
	// tolerated before extraction aborts.
	maxConsecutiveBadFrames = 3

	// maxFrameLongSide caps the longest side of emitted frames. Vision
	// models downscale anyway; shipping larger images only costs tokens.
	maxFrameLongSide = 1024

	frameFilePattern = "frame_%06d.jpg"
)

// ExtractOptions describes one extraction run.
type ExtractOptions struct {
	// Source is a local path or http(s) URL; ffmpeg handles both.
	Source string
	// OutputDir receives the frame_%06d.jpg files.
	OutputDir string
	// SamplingFPS is the requested sampling rate.
	SamplingFPS int
	// MaxFrames caps extraction; 0 means unbounded.
	MaxFrames int
	// Video carries the probe result for the source.
	Video *VideoInfo
}

// ExtractedFrame describes one sampled frame written to disk.
type ExtractedFrame struct {
	Index       int
	SourceFrame int
	Path        string
	Timestamp   float64
	Width       int
	Height      int
	SizeBytes   int64
}

// Extractor samples still frames out of a video by streaming MJPEG from
// ffmpeg over a pipe and splitting it on JPEG markers.
type Extractor struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewExtractor creates a frame extractor using the given ffmpeg binary.
func NewExtractor(ffmpegPath string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ffmpegPath: ffmpegPath, logger: logger}
}

// Stride returns how many source frames to advance per sampled frame.
func Stride(nativeFPS float64, samplingFPS int) int {
	if nativeFPS <= 0 || samplingFPS <= 0 {
		return 1
	}
	stride := int(math.Round(nativeFPS / float64(samplingFPS)))
	if stride < 1 {
		stride = 1
	}
	return stride
}

// scaleFilter returns an ffmpeg scale filter limiting the longest side, or
// "" when the source is already within bounds.
func scaleFilter(width, height int) string {
	if width <= maxFrameLongSide && height <= maxFrameLongSide {
		return ""
	}
	if width >= height {
		return fmt.Sprintf("scale=%d:-2", maxFrameLongSide)
	}
	return fmt.Sprintf("scale=-2:%d", maxFrameLongSide)
}

// buildExtractArgs assembles the ffmpeg invocation for one extraction run.
func buildExtractArgs(opts ExtractOptions, stride int) []string {
	vf := fmt.Sprintf("select=not(mod(n\\,%d))", stride)
	if sf := scaleFilter(opts.Video.Width, opts.Video.Height); sf != "" {
		vf += "," + sf
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", opts.Source,
		"-vf", vf,
		"-fps_mode", "vfr",
	}
	if opts.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(opts.MaxFrames))
	}
	args = append(args,
		"-c:v", "mjpeg",
		"-q:v", "2",
		"-f", "image2pipe",
		"pipe:1",
	)
	return args
}

// Extract runs ffmpeg and writes sampled frames into opts.OutputDir. onFrame
// is invoked for each frame as it lands and may be nil. The returned slice
// is ordered by frame index; indices are contiguous from 0 even when
// unreadable frames were skipped.
func (e *Extractor) Extract(ctx context.Context, opts ExtractOptions, onFrame func(ExtractedFrame)) ([]ExtractedFrame, error) {
	if opts.Video == nil {
		return nil, fmt.Errorf("video info is required")
	}
	stride := Stride(opts.Video.FPS, opts.SamplingFPS)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating frame directory: %w", err)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, e.ffmpegPath, buildExtractArgs(opts, stride)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", ErrOpenSource, err)
	}

	frames, scanErr := e.scanFrames(stdout, opts, stride, onFrame)
	if scanErr != nil {
		cancel()
		_ = cmd.Wait()
		if errors.Is(scanErr, ErrUnreadableFrames) {
			return nil, scanErr
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrOpenSource, scanErr)
		}
		return nil, scanErr
	}

	capped := opts.MaxFrames > 0 && len(frames) >= opts.MaxFrames
	if capped {
		// -frames:v usually ends the process on its own; make sure.
		cancel()
	}

	waitErr := cmd.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil && !capped {
		detail := strings.TrimSpace(stderr.String())
		if len(frames) == 0 {
			return nil, fmt.Errorf("%w: %v: %s", ErrOpenSource, waitErr, detail)
		}
		e.logger.Warn("ffmpeg exited abnormally after producing frames",
			"frames", len(frames), "error", waitErr, "stderr", detail)
	}

	return frames, nil
}

// scanFrames splits the MJPEG byte stream into frames, validates each and
// writes the readable ones to disk. Timestamps are derived from the stream
// ordinal so skipped frames do not shift later timestamps.
func (e *Extractor) scanFrames(r io.Reader, opts ExtractOptions, stride int, onFrame func(ExtractedFrame)) ([]ExtractedFrame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 64<<20)
	scanner.Split(scanJPEGFrames)

	var frames []ExtractedFrame
	consecutiveBad := 0
	emitted := 0

	for scanner.Scan() {
		data := scanner.Bytes()
		ordinal := emitted
		emitted++

		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			consecutiveBad++
			e.logger.Warn("skipping unreadable frame", "ordinal", ordinal, "error", err)
			if consecutiveBad > maxConsecutiveBadFrames {
				return frames, fmt.Errorf("%w: %d in a row ending at stream frame %d",
					ErrUnreadableFrames, consecutiveBad, ordinal)
			}
			continue
		}
		consecutiveBad = 0

		idx := len(frames)
		path := filepath.Join(opts.OutputDir, fmt.Sprintf(frameFilePattern, idx))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return frames, fmt.Errorf("writing frame %d: %w", idx, err)
		}

		frame := ExtractedFrame{
			Index:       idx,
			SourceFrame: ordinal * stride,
			Path:        path,
			Timestamp:   float64(ordinal*stride) / opts.Video.FPS,
			Width:       cfg.Width,
			Height:      cfg.Height,
			SizeBytes:   int64(len(data)),
		}
		frames = append(frames, frame)
		if onFrame != nil {
			onFrame(frame)
		}

		if opts.MaxFrames > 0 && len(frames) >= opts.MaxFrames {
			return frames, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return frames, fmt.Errorf("reading frame stream: %w", err)
	}
	return frames, nil
}

// scanJPEGFrames is a bufio.SplitFunc yielding one JPEG per token, delimited
// by SOI/EOI markers. Bytes between frames are discarded.
func scanJPEGFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep the trailing byte in case an SOI marker straddles the read
		// boundary.
		if len(data) > 0 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	frameEnd := start + 2 + end + 2
	return frameEnd, data[start:frameEnd], nil
}
