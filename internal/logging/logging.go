// Package logging wires component loggers to a shared output.
//
// Every component takes a *log.Logger through its Config (the same pattern the
// daemon and dashboard use); this package only decides where those loggers
// write. By default that is stderr. When a log file is configured, output goes
// to a size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log output.
type Options struct {
	// File is the log file path. Empty means stderr only.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int

	// Quiet drops the stderr copy when a file is configured.
	Quiet bool
}

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	closer io.Closer
)

// Setup points every logger created by New at the configured output.
// It returns a function that flushes and closes the log file, if any.
func Setup(opts Options) func() error {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	if opts.File == "" {
		output = os.Stderr
		return func() error { return nil }
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	closer = rotator

	if opts.Quiet {
		output = rotator
	} else {
		output = io.MultiWriter(rotator, os.Stderr)
	}

	return rotator.Close
}

// Writer returns the current shared output.
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// New returns a logger that writes to the shared output with a "[component] " prefix.
func New(component string) *log.Logger {
	return log.New(sharedWriter{}, "["+component+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// sharedWriter resolves the output on every write so loggers created before
// Setup still follow it.
type sharedWriter struct{}

func (sharedWriter) Write(p []byte) (int, error) {
	return Writer().Write(p)
}
