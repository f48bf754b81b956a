// package journal implements the append-only record of listener activity.
//
// One entry is written per listener request attempt. Writes are serialized by a
// single lock and are best-effort: a journal failure never alters the HTTP
// response the listener sends.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/petredig/tidl/internal/shared"
)

// FileName is the journal's fixed name inside the tidl state directory.
const FileName = "listener.log"

// Entry is one line of listener activity.
type Entry struct {
	Timestamp time.Time
	Method    string
	URL       string
	Outcome   string
}

// RequestLog appends listener activity to a fixed file location.
type RequestLog struct {
	path   string
	mu     sync.Mutex
	logger *log.Logger
	clock  func() time.Time
}

// New creates a RequestLog writing to the given path. An empty path resolves
// to listener.log under the tidl state directory.
func New(path string, logger *log.Logger) (*RequestLog, error) {
	if path == "" {
		dir, err := shared.StateDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve journal location: %w", err)
		}
		path = filepath.Join(dir, FileName)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &RequestLog{path: path, logger: logger, clock: time.Now}, nil
}

// Path returns the journal file location.
func (r *RequestLog) Path() string { return r.path }

// Append writes one entry. Failures are logged and swallowed; callers never
// see a journal error.
func (r *RequestLog) Append(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.clock()
	}

	line := fmt.Sprintf("[%s] %s url=%s %s\n",
		entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Method, entry.URL, entry.Outcome)

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			r.logger.Warnf("journal directory unavailable: %v", err)
			return
		}
	}

	handle, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		r.logger.Warnf("journal open failed: %v", err)
		return
	}
	defer handle.Close()

	if _, err := handle.WriteString(line); err != nil {
		r.logger.Warnf("journal write failed: %v", err)
	}
}
