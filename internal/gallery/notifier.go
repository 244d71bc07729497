package gallery

import (
	"context"
	"log/slog"
)

// Severity of an operator-facing notice.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notice is a user-facing message scoped to one operation.
type Notice struct {
	Operation string
	Severity  Severity
	Message   string
	Err       error
}

// Notifier surfaces notices to whoever is operating the gallery.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// LogNotifier writes notices to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []slog.Attr{
		slog.String("op", n.Operation),
	}
	if n.Err != nil {
		attrs = append(attrs, slog.String("error", n.Err.Error()))
	}

	level := slog.LevelInfo
	if n.Severity == SeverityError {
		level = slog.LevelWarn
	}

	logger.LogAttrs(ctx, level, n.Message, attrs...)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

func notifierOrLog(n Notifier, logger *slog.Logger) Notifier {
	if n != nil {
		return n
	}

	return LogNotifier{Logger: logger}
}
