package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Reserved top-level keys of every audit record
const (
	KeyTimestamp = "timestamp"
	KeyEventType = "event_type"
	KeyEventID   = "event_id"
)

// AuditEvent is a single audit record. Fields are flattened next to the
// reserved keys when serialised; a field never overrides a reserved key.
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	EventType string
	Fields    map[string]any
}

// NewAuditEvent stamps an event with a fresh id and the given time (UTC)
func NewAuditEvent(eventType string, at time.Time, fields map[string]any) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: at.UTC(),
		EventType: eventType,
		Fields:    fields,
	}
}

// MarshalJSON renders the event as one flat object
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out[KeyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	out[KeyEventType] = e.EventType
	out[KeyEventID] = e.ID
	return json.Marshal(out)
}

// AuditFileConfig controls size-based rotation of the audit file
type AuditFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditLogger appends one JSON object per line. Writes are serialised so
// records never interleave and keep call order.
type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAuditLogger opens a rotated audit file
func NewAuditLogger(cfg AuditFileConfig) (*AuditLogger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}

	return &AuditLogger{
		w: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

// NewAuditLoggerWriter writes audit records to an arbitrary writer
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{w: w}
}

// Write appends event as a single line
func (al *AuditLogger) Write(event AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	al.mu.Lock()
	defer al.mu.Unlock()

	if _, err := al.w.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any
func (al *AuditLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if c, ok := al.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
