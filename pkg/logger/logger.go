package logger

import (
	"log/slog"
)

type Logger interface {
	Download(source, dest string)
	Skip(path, reason string)
	Error(operation, path string, err error)
	Debug(message string, args ...any)
}

// SyncLogger writes sync events to a slog.Logger. Quiet suppresses everything
// but errors; DryRun prefixes planned downloads the way a real run logs them.
type SyncLogger struct {
	Logger   *slog.Logger
	IsDryRun bool
	IsQuiet  bool
}

func (l *SyncLogger) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *SyncLogger) Download(source, dest string) {
	if l.IsQuiet {
		return
	}
	msg := "download"
	if l.IsDryRun {
		msg = "(dryrun) download"
	}
	l.log().Info(msg, "source", source, "dest", dest)
}

func (l *SyncLogger) Skip(path, reason string) {
	if l.IsQuiet {
		return
	}
	l.log().Debug("skip", "path", path, "reason", reason)
}

func (l *SyncLogger) Error(operation, path string, err error) {
	l.log().Error(operation+" failed", "path", path, "error", err)
}

func (l *SyncLogger) Debug(message string, args ...any) {
	if l.IsQuiet {
		return
	}
	l.log().Debug(message, args...)
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Download(source, dest string)            {}
func (NullLogger) Skip(path, reason string)                {}
func (NullLogger) Error(operation, path string, err error) {}
func (NullLogger) Debug(message string, args ...any)       {}
