package deadletter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"riskengine/internal/logger"
	"riskengine/internal/metrics"
)

// Sink receives events that could not be processed.
type Sink interface {
	Write(payload []byte, stage, reason string) error
	Close() error
}

// Record is one dead-lettered event.
type Record struct {
	FailedAt time.Time       `json:"failed_at"`
	Stage    string          `json:"stage"`
	Reason   string          `json:"reason"`
	Payload  json.RawMessage `json:"payload"`
}

// Writer appends dead-lettered events to a JSON lines file.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewWriter creates a JSONL dead-letter writer.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dead-letter directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter file: %w", err)
	}

	logger.Infof("Dead-letter writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write records one failed event.
func (w *Writer) Write(payload []byte, stage, reason string) error {
	rec := Record{
		FailedAt: time.Now().UTC(),
		Stage:    stage,
		Reason:   reason,
		Payload:  normalizePayload(payload),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("encode dead-letter record: %w", err)
	}
	metrics.DeadLettered.WithLabelValues(stage).Inc()
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// normalizePayload keeps valid JSON as-is and quotes anything else so
// the record itself always stays well-formed.
func normalizePayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(quoted)
}
