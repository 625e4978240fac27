package coastline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StepLogEntry records one completed node execution in a thread's audit
// trail.
type StepLogEntry struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Node         string    `json:"node"`
	Step         int       `json:"step"`
	Suspended    bool      `json:"suspended,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartTime    time.Time `json:"start_time"`
	Duration     float64   `json:"duration"`
}

// StepLogger defines simple step audit logging interface
type StepLogger interface {
	// LogStep logs a completed node execution
	LogStep(ctx context.Context, entry *StepLogEntry) error

	// GetStepHistory retrieves the step log for a thread
	GetStepHistory(ctx context.Context, threadID string) ([]*StepLogEntry, error)
}

// NullStepLogger is a no-op implementation of StepLogger.
type NullStepLogger struct{}

func NewNullStepLogger() *NullStepLogger {
	return &NullStepLogger{}
}

func (l *NullStepLogger) LogStep(ctx context.Context, entry *StepLogEntry) error {
	return nil
}

func (l *NullStepLogger) GetStepHistory(ctx context.Context, threadID string) ([]*StepLogEntry, error) {
	return nil, nil
}

// FileStepLogger is an implementation of StepLogger that logs to a file.
// A file is created per thread. The file is formatted as newline-delimited JSON.
type FileStepLogger struct {
	directory string
}

func NewFileStepLogger(directory string) *FileStepLogger {
	return &FileStepLogger{directory: directory}
}

func (l *FileStepLogger) threadStepLogPath(threadID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", threadID))
}

func (l *FileStepLogger) GetStepHistory(ctx context.Context, threadID string) ([]*StepLogEntry, error) {
	filePath := l.threadStepLogPath(threadID)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var entries []*StepLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry StepLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (l *FileStepLogger) LogStep(ctx context.Context, entry *StepLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.threadStepLogPath(entry.ThreadID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
