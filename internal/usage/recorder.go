// Package usage records one event per provider call.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"maskstudio/internal/infra"
	"maskstudio/internal/sqlinline"
)

// Event is one provider call.
type Event struct {
	RequestID  string
	SessionID  string
	Provider   string
	Model      string
	Operation  string
	Success    bool
	Latency    time.Duration
	Images     int
	Properties map[string]any
}

// Summary aggregates events per provider and operation.
type Summary struct {
	Provider     string  `json:"provider"`
	Operation    string  `json:"operation"`
	Total        int     `json:"total"`
	Succeeded    int     `json:"succeeded"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	Images       int     `json:"images"`
}

// Recorder stores usage events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards events. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// PGRecorder writes events through the SQL runner.
type PGRecorder struct {
	db      infra.SQLExecutor
	timeout time.Duration
}

// NewPGRecorder returns a recorder writing to usage_events.
func NewPGRecorder(db infra.SQLExecutor) *PGRecorder {
	return &PGRecorder{db: db, timeout: 3 * time.Second}
}

// Migrate creates the usage_events table when missing.
func (r *PGRecorder) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QCreateUsageEvents); err != nil {
		return fmt.Errorf("usage: migrate: %w", err)
	}
	return nil
}

func (r *PGRecorder) Record(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	var props []byte
	if len(ev.Properties) > 0 {
		raw, err := json.Marshal(ev.Properties)
		if err != nil {
			return fmt.Errorf("usage: encode properties: %w", err)
		}
		props = raw
	}
	_, err := r.db.Exec(ctx, sqlinline.QInsertUsageEvent,
		ev.RequestID,
		ev.SessionID,
		ev.Provider,
		ev.Model,
		ev.Operation,
		ev.Success,
		int(ev.Latency/time.Millisecond),
		ev.Images,
		props,
	)
	if err != nil {
		return fmt.Errorf("usage: insert event: %w", err)
	}
	return nil
}

// Summarize aggregates the events of the last hours.
func (r *PGRecorder) Summarize(ctx context.Context, hours int) ([]Summary, error) {
	if hours <= 0 {
		hours = 24
	}
	rows, err := r.db.Query(ctx, sqlinline.QUsageSummary, hours)
	if err != nil {
		return nil, fmt.Errorf("usage: summary: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Provider, &s.Operation, &s.Total, &s.Succeeded, &s.AvgLatencyMS, &s.Images); err != nil {
			return nil, fmt.Errorf("usage: scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Logging wraps a recorder and logs failures instead of returning them, so
// a broken event store never fails a user request.
type Logging struct {
	next Recorder
	log  zerolog.Logger
}

// NewLogging wraps next.
func NewLogging(next Recorder, log zerolog.Logger) *Logging {
	if next == nil {
		next = Nop{}
	}
	return &Logging{next: next, log: log.With().Str("component", "usage").Logger()}
}

func (l *Logging) Record(ctx context.Context, ev Event) error {
	if err := l.next.Record(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("provider", ev.Provider).Str("operation", ev.Operation).Msg("usage event dropped")
	}
	return nil
}
