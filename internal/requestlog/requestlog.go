// Package requestlog writes one JSON line per completed request to a
// rotated file under the configured log directory, and keeps the most
// recent entries in an in-memory ring for the admin surface.
package requestlog

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flemzord/gatewayd/internal/catalog"
)

const ringSize = 256

// AttemptRecord is one entry of a request's per-attempt trace as it
// appears on disk.
type AttemptRecord struct {
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
	WallMs   int64  `json:"wall_ms"`
}

// Entry is one completed request.
type Entry struct {
	Time            time.Time       `json:"time"`
	RequestID       string          `json:"request_id"`
	JobID           string          `json:"job_id"`
	Model           string          `json:"model"`
	ProviderID      string          `json:"provider_id,omitempty"`
	RouteName       string          `json:"route_name,omitempty"`
	QueueWaitMs     int64           `json:"queue_wait_ms"`
	RuntimeMs       int64           `json:"runtime_ms"`
	Status          string          `json:"status"`
	NormalizedError string          `json:"normalized_error,omitempty"`
	Trace           []AttemptRecord `json:"trace,omitempty"`
}

// Config tunes rotation and retention of the on-disk log.
type Config struct {
	Dir       string
	MaxSizeMB int
	KeepDays  int
	Compress  bool
}

// Logger appends entries to logs/requests.jsonl with size-based rotation
// and age-based retention, and mirrors them into a fixed-size ring.
type Logger struct {
	mu     sync.Mutex
	out    *lumberjack.Logger
	ring   []Entry
	next   int
	filled bool
}

// New creates a Logger writing under cfg.Dir.
func New(cfg Config) *Logger {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.KeepDays <= 0 {
		cfg.KeepDays = 14
	}
	return &Logger{
		out: &lumberjack.Logger{
			Filename: filepath.Join(cfg.Dir, "requests.jsonl"),
			MaxSize:  cfg.MaxSizeMB,
			MaxAge:   cfg.KeepDays,
			Compress: cfg.Compress,
		},
		ring: make([]Entry, ringSize),
	}
}

// Record writes e to the log file and the in-memory ring. Write failures
// are swallowed: a full disk must not fail the request that already
// completed.
func (l *Logger) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % ringSize
	if l.next == 0 {
		l.filled = true
	}
	line, err := json.Marshal(e)
	if err == nil {
		line = append(line, '\n')
		_, _ = l.out.Write(line)
	}
	l.mu.Unlock()
}

// Recent returns up to n of the most recent entries, newest first.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = ringSize
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + ringSize) % ringSize
		out = append(out, l.ring[idx])
	}
	return out
}

// Rotate forces a file rotation, used by the daily cron sweep so the log
// rolls by day even when it never hits the size limit.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// FromJob builds an Entry from a finished job.
func FromJob(job *catalog.Job) Entry {
	e := Entry{
		RequestID:   job.RequestID,
		JobID:       job.JobID,
		Model:       job.ModelID,
		ProviderID:  job.ProviderID,
		RouteName:   job.RouteName,
		QueueWaitMs: job.QueueWait.Milliseconds(),
		RuntimeMs:   job.Runtime.Milliseconds(),
		Status:      string(job.Status),
	}
	if job.Error != "" {
		e.NormalizedError = string(job.Error)
	}
	for _, a := range job.Trace {
		e.Trace = append(e.Trace, AttemptRecord{
			Model:    a.Model,
			Provider: a.ProviderID,
			Error:    string(a.Error),
			WallMs:   a.WallTime.Milliseconds(),
		})
	}
	return e
}
