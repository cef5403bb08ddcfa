// logger/logger.go
// Purpose: Process log setup. Routes the standard logger to a date-rotated
// file, optionally teed to stderr, so every package's log.Printf lands in
// one place.

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config configures log output.
type Config struct {
	// Dir is the log directory. Empty means console only.
	Dir string
	// Console tees file output to stderr.
	Console bool
}

// Writer is a date-rotated log file writer. It rolls to a new file named
// secore-YYYY-MM-DD.log when the date changes.
type Writer struct {
	mu      sync.Mutex
	dir     string
	date    string
	file    *os.File
	console bool
}

// Setup configures the standard logger per config and returns the writer
// for closing at shutdown. With no directory configured it leaves the
// default stderr output in place and returns nil.
func Setup(config Config) (*Writer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if config.Dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{dir: config.Dir, console: config.Console}
	if err := w.rotate(time.Now()); err != nil {
		return nil, err
	}

	log.SetOutput(w)
	return w, nil
}

// Write appends to the current day's file, rotating first if the date
// changed since the last write.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Format("2006-01-02") != w.date {
		if err := w.rotate(now); err != nil {
			// Fall back to stderr rather than dropping the line.
			return os.Stderr.Write(p)
		}
	}

	if w.console {
		os.Stderr.Write(p)
	}
	return w.file.Write(p)
}

// rotate opens the file for the given date. Caller holds the lock (or is
// the constructor).
func (w *Writer) rotate(now time.Time) error {
	date := now.Format("2006-01-02")
	path := filepath.Join(w.dir, "secore-"+date+".log")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	if w.file != nil {
		w.file.Close()
	}
	w.file = file
	w.date = date
	return nil
}

// Close flushes and closes the current file and restores stderr output.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	log.SetOutput(os.Stderr)
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

var _ io.Writer = (*Writer)(nil)
