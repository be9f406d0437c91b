// Package telemetry implements the telemetry enrichment pipeline stage. It
// looks for simulator sidecar files next to the configured telemetry
// directory — a per-session PDF with fuel and swing metrics and an optional
// joystick stats JSON — and attaches whatever parses. Enrichment is best
// effort: nothing here ever fails the run.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "enrich_telemetry"
	// StageName is the human-readable name for this stage.
	StageName = "Enrich Telemetry"
)

var (
	fuelPattern  = regexp.MustCompile(`(?i)Fuel\s+Burned\s*:?\s*([0-9.]+)\s*L`)
	swingPattern = regexp.MustCompile(`(?i)Time\s+Spent\s+Swinging\s+(Left|Right)\s*:?\s*([0-9:.]+)\s*(sec|s|mins)?`)

	// idPattern pulls a session identifier like "B6" out of longer source
	// stems such as "site_B6_morning".
	idPattern = regexp.MustCompile(`[A-Za-z]?\d+[A-Za-z]?`)
)

// Stage enriches the run with simulator telemetry.
type Stage struct {
	shared.BaseStage
	dir    string
	logger *slog.Logger
}

// New creates a new telemetry enrichment stage reading sidecar files from
// dir. An empty dir disables enrichment.
func New(dir string) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName),
		dir:       dir,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		dir := ""
		if deps.Config != nil {
			dir = deps.Config.Telemetry.Dir
		}
		s := New(dir)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Execute fills state.Telemetry. The record's Found flag stays false when no
// sidecar matched or nothing parsed.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()

	if s.dir == "" {
		state.Telemetry = models.TelemetryRecord{}
		s.ReportProgress(ctx, state, 1.0, "telemetry lookup disabled")
		result.Message = "Telemetry lookup disabled"
		return result, nil
	}

	record := models.TelemetryRecord{}
	for _, id := range candidateIDs(state.SourceID) {
		rec, hit := s.lookup(ctx, id)
		if hit {
			record = rec
			break
		}
	}

	state.Telemetry = record

	if s.logger != nil {
		s.logger.InfoContext(ctx, "telemetry enrichment complete",
			slog.Bool("found", record.Found),
			slog.Bool("joystick", record.Joystick != nil),
			slog.String("telemetry_id", record.SourceID))
	}
	message := "No matching telemetry"
	if record.Found || record.Joystick != nil {
		message = fmt.Sprintf("Matched telemetry for %s", record.SourceID)
		result.RecordsProcessed = 1
	}
	s.ReportProgress(ctx, state, 1.0, message)

	result.Message = message
	return result, nil
}

// lookup tries one candidate id: `<dir>/<id>.pdf` for the session metrics
// and `<dir>/<id>_stats.json` for joystick analytics. hit reports whether
// either file yielded data, which stops the candidate scan.
func (s *Stage) lookup(ctx context.Context, id string) (models.TelemetryRecord, bool) {
	record := models.TelemetryRecord{SourceID: id}

	pdfPath := filepath.Join(s.dir, id+".pdf")
	text, err := extractText(pdfPath)
	switch {
	case err == nil:
		parsed, found := parseMetrics(text)
		parsed.SourceID = id
		parsed.Found = found
		record = parsed
		if !found && s.logger != nil {
			s.logger.WarnContext(ctx, "telemetry PDF matched no metrics", slog.String("path", pdfPath))
		}
	case !os.IsNotExist(err):
		if s.logger != nil {
			s.logger.WarnContext(ctx, "unreadable telemetry PDF",
				slog.String("path", pdfPath),
				slog.String("error", err.Error()))
		}
	}

	statsPath := filepath.Join(s.dir, id+"_stats.json")
	joystick, err := loadJoystick(statsPath)
	switch {
	case err == nil:
		record.Joystick = joystick
	case !os.IsNotExist(err):
		if s.logger != nil {
			s.logger.WarnContext(ctx, "unreadable joystick stats",
				slog.String("path", statsPath),
				slog.String("error", err.Error()))
		}
	}

	return record, record.Found || record.Joystick != nil
}

// candidateIDs lists the telemetry identifiers to try for a source: the
// full id first, then an embedded short id when the stem carries one.
func candidateIDs(sourceID string) []string {
	ids := []string{sourceID}
	if m := idPattern.FindString(sourceID); m != "" && m != sourceID {
		ids = append(ids, m)
	}
	return ids
}

// extractText pulls the plain text out of a PDF. The reader is known to
// panic on some malformed files, so that is caught and surfaced as an error.
func extractText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// parseMetrics scans the PDF text for the known telemetry lines. found is
// true when at least one metric matched; missing metrics stay zero.
func parseMetrics(text string) (models.TelemetryRecord, bool) {
	var record models.TelemetryRecord
	found := false

	if m := fuelPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			record.FuelBurnedLitres = v
			found = true
		}
	}

	for _, m := range swingPattern.FindAllStringSubmatch(text, -1) {
		// The unit suffix is formatting noise: values are plain seconds or
		// colon-separated times regardless of what follows them.
		secs, err := parseSwingSeconds(m[2])
		if err != nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "left":
			record.SwingLeftSeconds = secs
			found = true
		case "right":
			record.SwingRightSeconds = secs
			found = true
		}
	}

	return record, found
}

// parseSwingSeconds converts "44", "0:44" or "1:02:03.5" to seconds. Parts
// are positional: each colon shifts the running total by a factor of 60.
func parseSwingSeconds(value string) (float64, error) {
	total := 0.0
	for _, part := range strings.Split(value, ":") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, fmt.Errorf("bad time component %q: %w", part, err)
		}
		total = total*60 + v
	}
	return total, nil
}

// joystickFile is the on-disk shape of the simulator's <id>_stats.json.
type joystickFile struct {
	SI           map[string]map[string]float64 `json:"SI"`
	BCS          float64                       `json:"BCS"`
	ControlUsage map[string]float64            `json:"control_usage"`
}

// loadJoystick parses the joystick analytics sidecar.
func loadJoystick(path string) (*models.JoystickStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f joystickFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing joystick stats: %w", err)
	}

	return &models.JoystickStats{
		BCSScore:          f.BCS,
		ControlUsage:      f.ControlUsage,
		SimultaneityIndex: f.SI,
	}, nil
}

// Ensure Stage implements core.Stage.
var _ core.Stage = (*Stage)(nil)
