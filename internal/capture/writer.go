package capture

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/radiolink/internal/radio"
)

// Logger is the optional logging interface. *logging.Logger satisfies it.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Writer appends captured frames to a file. Safe for concurrent use.
type Writer struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool

	written atomic.Uint64
	failed  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewWriter opens path for appending, creating it with 0644 if needed.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G302 -- capture files are meant to be shared
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:    f,
		encoder: newEncoder(f),
	}, nil
}

// ObserveFrame records f. It runs on the device reader task, so a failed
// write is counted and logged rather than returned.
func (w *Writer) ObserveFrame(dir radio.Direction, f radio.Frame, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if err := w.encoder.Encode(newRecord(dir, f, at)); err != nil {
		// Only the first failure is logged.
		if w.failed.Add(1) == 1 {
			w.loggerMu.RLock()
			logger := w.logger
			w.loggerMu.RUnlock()
			if logger != nil {
				logger.Warn("frame capture write failed", "file", w.file.Name(), "error", err)
			}
		}
		return
	}
	w.written.Add(1)
}

// Written returns the number of records written.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Failed returns the number of records that could not be written.
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}

// SetLogger sets the logger used to report write failures.
func (w *Writer) SetLogger(l Logger) {
	w.loggerMu.Lock()
	w.logger = l
	w.loggerMu.Unlock()
}

// Close closes the file. Later ObserveFrame calls are ignored.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

var _ radio.FrameObserver = (*Writer)(nil)
