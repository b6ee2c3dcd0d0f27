package summarizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ideamans/go-l10n"
)

// MarkdownFormatter renders a Summary as a Markdown document with
// localized headings.
type MarkdownFormatter struct{}

// NewMarkdownFormatter creates a new MarkdownFormatter.
func NewMarkdownFormatter() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", l10n.T("Run Summary"))
	fmt.Fprintf(&b, "%s: %s\n\n", l10n.T("Generated"), s.GeneratedAt.Format(time.RFC3339))

	section(&b, l10n.T("Results"))
	status := l10n.T("Completed")
	if s.Err != "" {
		status = l10n.T("Failed") + ": " + s.Err
	}
	row(&b, l10n.T("Status"), status)
	row(&b, l10n.T("Frames Written"), fmt.Sprint(s.Result.Emitted))
	row(&b, l10n.T("Frames Skipped"), fmt.Sprint(s.Result.Skipped))
	if s.Result.Records > 0 {
		row(&b, l10n.T("Annotation Records"), fmt.Sprint(s.Result.Records))
		row(&b, l10n.T("Unreliable Records"), fmt.Sprint(s.Result.Unreliable))
		row(&b, l10n.T("Frames Past Last Record"), fmt.Sprint(s.Result.Overruns))
	}
	row(&b, l10n.T("Output Size"), size(s.Result.OutputWidth, s.Result.OutputHeight))
	row(&b, l10n.T("Elapsed"), s.Elapsed.Round(time.Millisecond).String())
	b.WriteString("\n")

	section(&b, l10n.T("Inputs"))
	row(&b, l10n.T("Main"), orNone(s.Inputs.Main))
	row(&b, l10n.T("Overlay"), orNone(s.Inputs.Overlay))
	row(&b, l10n.T("Annotations"), orNone(s.Inputs.Annotations))
	row(&b, l10n.T("Output"), orNone(s.Inputs.Output))
	b.WriteString("\n")

	section(&b, l10n.T("Settings"))
	row(&b, l10n.T("Mode"), s.Settings.Mode)
	row(&b, "out_w / out_h", code(s.Settings.OutW)+" / "+code(s.Settings.OutH))
	row(&b, "x / y", code(s.Settings.X)+" / "+code(s.Settings.Y))
	row(&b, "eof_action", orNone(s.Settings.EOFAction))
	row(&b, l10n.T("Alpha"), orNone(s.Settings.Alpha))
	row(&b, l10n.T("Kernel"), orNone(s.Settings.Kernel))
	b.WriteString("\n")

	section(&b, l10n.T("Video Details"))
	row(&b, l10n.T("Input Size"), size(s.Video.InputWidth, s.Video.InputHeight))
	if s.Video.InputFrames > 0 {
		row(&b, l10n.T("Input Frames"), fmt.Sprint(s.Video.InputFrames))
	}
	row(&b, l10n.T("Frame Rate"), orNone(s.Video.FrameRate))
	if s.Video.FileSize > 0 {
		row(&b, l10n.T("Output File Size"), formatBytes(s.Video.FileSize))
	}

	return b.String()
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "## %s\n\n| %s | %s |\n|---|---|\n", title, l10n.T("Item"), l10n.T("Value"))
}

func row(b *strings.Builder, item, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", item, strings.ReplaceAll(value, "|", `\|`))
}

func code(s string) string {
	if s == "" {
		return l10n.T("None")
	}
	return "`" + s + "`"
}

func orNone(s string) string {
	if s == "" {
		return l10n.T("None")
	}
	return s
}

func size(w, h int) string {
	if w == 0 || h == 0 {
		return l10n.T("None")
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

var _ Formatter = (*MarkdownFormatter)(nil)
