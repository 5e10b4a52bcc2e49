package logging

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEvent is one append-only record: a signal generated, an order
// placed/filled/cancelled, or a position transition. Kind names the event;
// Payload is kind-specific and marshalled as-is.
type AuditEvent struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AuditLog is an async, non-blocking JSONL writer. Writes never block the
// trading loop: Record enqueues onto a bounded channel and drops (logging a
// warning) rather than apply backpressure if the writer falls behind.
type AuditLog struct {
	logger *zap.Logger
	writer *lumberjack.Logger
	events chan AuditEvent
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewAuditLog opens (or creates) path for append-only JSONL writes, rotated
// at 10MB, matching the teacher's data directory rotation convention. Each
// rotated file is gzip-compressed as soon as it is rotated, and rotated
// files older than 30 days or beyond the 10 newest are deleted.
func NewAuditLog(logger *zap.Logger, path string) *AuditLog {
	a := &AuditLog{
		logger: logger.Named("audit"),
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxAge:     30, // days
			MaxBackups: 10,
			Compress:   true,
		},
		events: make(chan AuditEvent, 4096),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AuditLog) run() {
	defer close(a.done)
	for evt := range a.events {
		line, err := json.Marshal(evt)
		if err != nil {
			a.logger.Error("failed to marshal audit event", zap.String("kind", evt.Kind), zap.Error(err))
			continue
		}
		line = append(line, '\n')
		if _, err := a.writer.Write(line); err != nil {
			a.logger.Error("failed to write audit event", zap.String("kind", evt.Kind), zap.Error(err))
		}
	}
}

// Record enqueues an event for asynchronous persistence. Never blocks: if
// the writer is saturated the event is dropped with a warning log, not queued
// indefinitely, because the trading loop must never stall on logging.
func (a *AuditLog) Record(kind string, payload interface{}) {
	evt := AuditEvent{Kind: kind, Timestamp: time.Now(), Payload: payload}
	select {
	case a.events <- evt:
	default:
		a.logger.Warn("audit log saturated, dropping event", zap.String("kind", kind))
	}
}

// Close drains pending events and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.events)
	<-a.done
	return a.writer.Close()
}
