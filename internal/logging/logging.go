package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options selects the handler behind the slog.Logger.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
	Prefix string
}

// New returns a slog.Logger writing to w. Text output goes through the
// charmbracelet/log handler; json uses slog's own handler.
func New(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)

	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	charmLevel := log.InfoLevel
	switch level {
	case slog.LevelDebug:
		charmLevel = log.DebugLevel
	case slog.LevelWarn:
		charmLevel = log.WarnLevel
	case slog.LevelError:
		charmLevel = log.ErrorLevel
	}

	handler := log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		Level:           charmLevel,
		ReportTimestamp: level == slog.LevelDebug,
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Summary is what one sync cycle did.
type Summary struct {
	Group      string
	Downloaded int
	Failed     int
	Bytes      int64
	Duration   time.Duration
}

// PrintSummary prints a summary of the sync operation
func PrintSummary(w io.Writer, s Summary, quiet bool) {
	if quiet && s.Failed == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	if s.Group != "" {
		fmt.Fprintf(w, "Group: %s\n", s.Group)
	}
	fmt.Fprintf(w, "Downloaded: %d files (%s)\n", s.Downloaded, FormatBytes(s.Bytes))
	if s.Failed > 0 {
		fmt.Fprintf(w, "Errors: %d\n", s.Failed)
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
