// Package audit records who changed what. Entries are advisory: a failing
// sink never blocks the mutation that produced the entry.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Entry describes one mutation.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Detail     string
	OccurredAt time.Time
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// LogSink writes entries to structured logs.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink builds a sink logging at info level.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(ctx context.Context, e Entry) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	s.log.InfoContext(ctx, "audit",
		"actor", e.Actor,
		"action", e.Action,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"detail", e.Detail,
		"occurred_at", e.OccurredAt,
	)
}

// NopSink discards entries. Used in tests.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) {}
