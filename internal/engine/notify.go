package engine

import "log/slog"

// Notifier receives user-facing notices from the engine: selection
// no-ops, partial-failure warnings, conflict messages. The CLI prints
// them; a UI host would render toasts.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// LogNotifier routes notices to slog. The default when no host notifier
// is configured.
type LogNotifier struct{}

// NewLogNotifier creates the slog-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Info(msg string)  { slog.Info(msg) }
func (n *LogNotifier) Warn(msg string)  { slog.Warn(msg) }
func (n *LogNotifier) Error(msg string) { slog.Error(msg) }
