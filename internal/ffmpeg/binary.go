// Package ffmpeg provides FFmpeg/FFprobe binary detection, video probing,
// and sampled frame extraction.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo describes a detected FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path,omitempty"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	BuildDate     string   `json:"build_date,omitempty"`
	Configuration string   `json:"configuration,omitempty"`
	Decoders      []string `json:"decoders,omitempty"`
}

// HasDecoder reports whether the installation can decode the named codec.
func (info *BinaryInfo) HasDecoder(name string) bool {
	return slices.Contains(info.Decoders, name)
}

// SupportsMinVersion reports whether the version is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

// JSON renders the info for diagnostics output.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// BinaryDetector locates ffmpeg and ffprobe and caches the result. Running
// `ffmpeg -version` on every pipeline start would be wasted work, so the
// detection is cached for cacheTTL.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	ffmpegOverride  string
	ffprobeOverride string
}

// NewBinaryDetector builds a detector. Non-empty paths pin the binaries;
// empty strings enable the env/cwd/PATH search.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:        5 * time.Minute,
		ffmpegOverride:  ffmpegPath,
		ffprobeOverride: ffprobePath,
	}
}

// WithCacheTTL overrides the detection cache lifetime.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached binary info, re-running detection when the cache
// has expired.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	cached := d.fresh()
	d.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if cached := d.fresh(); cached != nil {
		return cached, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// fresh returns the cached info when it is still valid. Callers hold d.mu.
func (d *BinaryDetector) fresh() *BinaryInfo {
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info
	}
	return nil
}

// Clear drops the cached detection, forcing a re-probe on the next Detect.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	// ffmpeg is required.
	// Search order: explicit config -> DIGWATCH_FFMPEG_BINARY -> ./ffmpeg -> PATH
	ffmpegPath, err := findBinary("ffmpeg", d.ffmpegOverride, "DIGWATCH_FFMPEG_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// ffprobe is needed for native-FPS and duration probing. Detection is
	// tolerant here; callers that need probing check FFprobePath themselves.
	if ffprobePath, err := findBinary("ffprobe", d.ffprobeOverride, "DIGWATCH_FFPROBE_BINARY"); err == nil {
		info.FFprobePath = ffprobePath
	}

	if err := readVersion(ctx, ffmpegPath, info); err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if decoders, err := listDecoders(ctx, ffmpegPath); err == nil {
		info.Decoders = decoders
	}
	return info, nil
}

// versionPattern matches "6.0" and git-build forms like "n6.0-2-g...".
var versionPattern = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// readVersion runs `ffmpeg -version` and fills the version fields of info.
func readVersion(ctx context.Context, ffmpegPath string, info *BinaryInfo) error {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(output), "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			info.Version = fields[2]
			if m := versionPattern.FindStringSubmatch(fields[2]); len(m) == 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}

	if info.Version == "" {
		return fmt.Errorf("failed to parse ffmpeg version")
	}
	return nil
}

// listDecoders parses `ffmpeg -decoders` output. Lines before the "------"
// separator are banner text; entries look like "V....D h264  H.264 ...".
func listDecoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-decoders", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}

	var decoders []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}

		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		switch line[0] {
		case 'V', 'A', 'S': // video, audio, subtitle
		default:
			continue
		}

		if fields := strings.Fields(line[6:]); len(fields) > 0 && fields[0] != "" {
			decoders = append(decoders, fields[0])
		}
	}
	return decoders, nil
}

// findBinary resolves an executable: explicit override, then the env var,
// then ./name for development trees, then PATH.
func findBinary(name, override, envVar string) (string, error) {
	if override != "" {
		if !isExecutable(override) {
			return "", fmt.Errorf("configured %s path %q is not executable", name, override)
		}
		return override, nil
	}

	if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
		return envPath, nil
	}

	if local := "./" + name; isExecutable(local) {
		return local, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}
