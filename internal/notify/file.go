package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"riskengine/internal/logger"
)

// FileNotifier appends alert messages to a JSON lines file. Used for
// local runs and replay where no notification endpoint exists.
type FileNotifier struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

type fileRecord struct {
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// NewFileNotifier creates a JSONL notifier at path.
func NewFileNotifier(path string) (*FileNotifier, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create notification directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open notification file: %w", err)
	}

	logger.Infof("File notifier initialized: %s", path)
	return &FileNotifier{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Send appends one record.
func (n *FileNotifier) Send(ctx context.Context, subject, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.encoder.Encode(fileRecord{Subject: subject, Message: message, SentAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return nil
}

// Close closes the output file.
func (n *FileNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file != nil {
		return n.file.Close()
	}
	return nil
}
