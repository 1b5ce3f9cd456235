package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to a structured logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging to logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	level := slog.LevelWarn
	if event.State == StateResolved {
		level = slog.LevelInfo
	}
	n.logger.Log(ctx, level, event.Summary(),
		"event_id", event.ID.String(),
		"slo", event.SLOName,
		"severity", event.Severity,
		"state", event.State,
		"rule", event.RuleID,
		"short_burn", event.ShortBurn,
		"long_burn", event.LongBurn,
	)
	return nil
}
