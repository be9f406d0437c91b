// Package cli renders analysis progress and results for the terminal
// commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/service"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/pkg/format"
)

// TerminalReporter prints a live progress bar to stderr and human-friendly
// result sections to stdout.
type TerminalReporter struct {
	mu     sync.Mutex
	out    io.Writer
	bar    *progressbar.ProgressBar
	maxPct int64
	quiet  bool

	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	bold   *color.Color
}

// NewTerminalReporter creates a reporter writing summaries to stdout.
func NewTerminalReporter() *TerminalReporter {
	return &TerminalReporter{
		out:    os.Stdout,
		cyan:   color.New(color.FgCyan, color.Bold),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		bold:   color.New(color.Bold),
	}
}

// Quiet suppresses the progress bar; summaries still print.
func (r *TerminalReporter) Quiet() *TerminalReporter {
	r.quiet = true
	return r
}

// Watch consumes progress events until the channel closes. Run it in a
// goroutine alongside the analysis call.
func (r *TerminalReporter) Watch(events <-chan *progress.ProgressEvent) {
	for ev := range events {
		if ev.Progress == nil {
			continue
		}

		switch ev.EventType {
		case progress.EventTypeProgress:
			r.updateBar(ev.Progress)
		case progress.EventTypeCompleted, progress.EventTypeError, progress.EventTypeCancelled:
			r.updateBar(ev.Progress)
			r.finishBar()
		}
	}
	r.finishBar()
}

func (r *TerminalReporter) updateBar(p *progress.OperationProgress) {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		r.bar = progressbar.NewOptions64(
			100,
			progressbar.OptionSetDescription(""),
			progressbar.OptionSetWidth(40),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "Analyzing [",
				BarEnd:        "]",
			}),
		)
	}

	pct := int64(p.Progress * 100)
	if pct > 100 {
		pct = 100
	}
	// The bar only moves forward; late stage events never rewind it.
	if pct >= r.maxPct {
		r.maxPct = pct
		_ = r.bar.Set64(pct)
	}

	r.bar.Describe(describeStage(p))
}

// describeStage names the active stage, falling back to the overall message.
func describeStage(p *progress.OperationProgress) string {
	if p.CurrentStageIndex >= 0 && p.CurrentStageIndex < len(p.Stages) {
		stage := p.Stages[p.CurrentStageIndex]
		if stage.Message != "" {
			return fmt.Sprintf("%s: %s", stage.Name, stage.Message)
		}
		return stage.Name
	}
	return p.Message
}

func (r *TerminalReporter) finishBar() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
	r.maxPct = 0
}

// printLabel prints a bold fixed-width label followed by a value. Width is
// applied to the plain text before styling so columns align.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	padded := fmt.Sprintf("%-*s", width, label)
	fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint(padded), value)
}

func (r *TerminalReporter) section(name string) {
	fmt.Fprintln(r.out)
	_, _ = r.cyan.Fprintln(r.out, name)
}

// Summary prints the outcome of one completed analysis.
func (r *TerminalReporter) Summary(result *models.PipelineResult) {
	r.finishBar()

	const w = 15
	r.section("SOURCE")
	r.printLabel(w, "Run:", result.RunID)
	r.printLabel(w, "Source:", result.Source)
	r.printLabel(w, "Source ID:", result.SourceID)
	r.printLabel(w, "Frames:", fmt.Sprintf("%s at %d fps", format.Number(int64(result.FramesExtracted)), result.SamplingFPS))
	if result.SoftFailures > 0 {
		r.printLabel(w, "Soft failures:", r.yellow.Sprintf("%d frames fell back to idle", result.SoftFailures))
	}

	r.section("CYCLES")
	if len(result.Cycles) == 0 {
		fmt.Fprintln(r.out, "  No work cycles detected")
	}
	for _, c := range result.Cycles {
		r.printCycle(c)
	}

	if !result.Statistics.IsZero() {
		r.printStatistics(result.Statistics)
	}

	if result.Telemetry.Found || result.Telemetry.Joystick != nil {
		r.printTelemetry(result.Telemetry)
	}

	r.section("REPORT")
	if result.Report.Path != "" {
		r.printLabel(w, "Markdown:", result.Report.Path)
	}
	if result.Report.HTMLPath != "" {
		r.printLabel(w, "HTML:", result.Report.HTMLPath)
	}
	if result.Report.ContactSheetPath != "" {
		r.printLabel(w, "Contact sheet:", result.Report.ContactSheetPath)
	}
	if result.Report.Path == "" && result.Report.HTMLPath == "" {
		fmt.Fprintln(r.out, "  Rendered in memory (saving disabled)")
	}

	fmt.Fprintln(r.out)
	_, _ = r.green.Fprintf(r.out, "Analysis complete in %s\n", result.WorkDuration().Round(100*time.Millisecond))
}

func (r *TerminalReporter) printCycle(c models.Cycle) {
	mark := r.green.Sprint("complete")
	if !c.IsComplete() {
		mark = r.yellow.Sprint("partial")
	}
	fmt.Fprintf(r.out, "  %s  %s-%s  %7s  %s\n",
		r.bold.Sprintf("Cycle %d", c.Number),
		format.MMSS(c.Start), format.MMSS(c.End),
		format.Seconds(c.Duration),
		mark,
	)
	fmt.Fprintf(r.out, "           dig %s, swing %s, dump %s, return %s\n",
		format.Seconds(c.Phases.Dig),
		format.Seconds(c.Phases.SwingToDump),
		format.Seconds(c.Phases.Dump),
		format.Seconds(c.Phases.Return),
	)
}

func (r *TerminalReporter) printStatistics(s models.CycleStatistics) {
	const w = 15
	r.section("STATISTICS")
	r.printLabel(w, "Cycles:", fmt.Sprintf("%d (%d complete)", s.Count, s.CompleteCount))
	r.printLabel(w, "Mean cycle:", format.Seconds(s.SpecificAverage))
	r.printLabel(w, "Wall-clock:", fmt.Sprintf("%s per cycle (%s idle)",
		format.Seconds(s.ApproximateAverage), format.Seconds(s.IdlePerCycle)))
	r.printLabel(w, "Range:", fmt.Sprintf("%s to %s", format.Seconds(s.MinDuration), format.Seconds(s.MaxDuration)))
	r.printLabel(w, "Std dev:", format.Seconds(s.StdDev))
	r.printLabel(w, "Throughput:", fmt.Sprintf("%.1f cycles/hour", s.CyclesPerHour))
	r.printLabel(w, "Consistency:", format.Percentage(s.ConsistencyScore, 1))
}

func (r *TerminalReporter) printTelemetry(t models.TelemetryRecord) {
	const w = 15
	r.section("TELEMETRY")
	if t.Found {
		r.printLabel(w, "Fuel burned:", fmt.Sprintf("%.1f L", t.FuelBurnedLitres))
		r.printLabel(w, "Swing left:", format.Seconds(t.SwingLeftSeconds))
		r.printLabel(w, "Swing right:", format.Seconds(t.SwingRightSeconds))
	}
	if t.Joystick != nil {
		r.printLabel(w, "BCS score:", format.Percentage(t.Joystick.BCSScore*100, 1))
	}
}

// Failure prints a hard analysis failure.
func (r *TerminalReporter) Failure(source string, err error) {
	r.finishBar()
	fmt.Fprintln(r.out)
	_, _ = r.red.Fprintf(r.out, "Analysis of %s failed: %v\n", source, err)
}

// BatchSummary prints one line per analyzed file plus totals.
func (r *TerminalReporter) BatchSummary(items []service.BatchItem) {
	r.finishBar()

	r.section("BATCH")
	succeeded := 0
	for _, item := range items {
		if item.Err != nil {
			fmt.Fprintf(r.out, "  %s %s: %v\n", r.red.Sprint("FAIL"), item.Source, item.Err)
			continue
		}
		succeeded++
		cycles := 0
		if item.Result != nil {
			cycles = len(item.Result.Cycles)
		}
		fmt.Fprintf(r.out, "  %s %s: %d %s\n",
			r.green.Sprint("OK  "), item.Source, cycles, plural(cycles, "cycle", "cycles"))
	}

	fmt.Fprintln(r.out)
	line := fmt.Sprintf("%d of %d videos analyzed", succeeded, len(items))
	if succeeded == len(items) {
		_, _ = r.green.Fprintln(r.out, line)
	} else {
		_, _ = r.yellow.Fprintln(r.out, line)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
