// Package activity records fire-and-forget audit events emitted by the
// license and restore managers.
package activity

import (
	"context"
	"log/slog"
	"sort"
)

// Event names.
const (
	LicenseIssued          = "license.issued"
	LicenseVerified        = "license.verified"
	LicenseRequestCreated  = "license.request_created"
	LicenseRequestApproved = "license.request_approved"
	LicenseRequestRejected = "license.request_rejected"
	RestoreCompleted       = "restore.completed"
	RestoreDryRun          = "restore.dry_run"
	RestoreMerged          = "restore.merged"
	BackupCreated          = "backup.created"
)

// Logger receives activity events. Implementations must not block for
// long and must never fail the calling operation.
type Logger interface {
	Log(ctx context.Context, actor, event string, payload map[string]any)
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(context.Context, string, string, map[string]any) {}

// SlogLogger writes events to a structured logger at info level.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a Logger backed by logger. A nil logger uses slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log implements Logger.
func (l *SlogLogger) Log(ctx context.Context, actor, event string, payload map[string]any) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, payload[k]))
	}
	l.logger.InfoContext(ctx, "activity",
		slog.String("actor", actor),
		slog.String("event", event),
		slog.Group("payload", attrs...))
}

// Multi fans events out to several loggers. A panicking sink is isolated
// from the others and from the caller.
type Multi []Logger

// Log implements Logger.
func (m Multi) Log(ctx context.Context, actor, event string, payload map[string]any) {
	for _, l := range m {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("activity sink panicked", slog.String("event", event), slog.Any("panic", r))
				}
			}()
			l.Log(ctx, actor, event, payload)
		}()
	}
}
