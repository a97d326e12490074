package reader

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zetetos/racetrack-env/pkg/models"
)

// Recorder appends snapshots to a recording file.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	writer  io.Writer
	gz      *gzip.Writer
	path    string
	written int
}

// StartRecording opens path for writing. The extension selects raw or gzip
// output.
func (r *Recorder) StartRecording(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return fmt.Errorf("%w to %s", ErrRecording, r.path)
	}

	ext := filepath.Ext(path)
	if ext != ExtRaw && ext != ExtCompressed {
		return fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}

	r.file = fh
	r.writer = fh
	r.path = path
	r.written = 0

	if ext == ExtCompressed {
		r.gz = gzip.NewWriter(fh)
		r.writer = r.gz
	}

	return nil
}

// IsRecording reports whether a recording is open.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.file != nil
}

// Write appends a snapshot. It is a no-op when not recording.
func (r *Recorder) Write(s models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}

	if _, err := r.writer.Write(Encode(s)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	r.written++

	return nil
}

// StopRecording flushes and closes the recording and returns the number of
// snapshots written.
func (r *Recorder) StopRecording() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, ErrNotRecording
	}

	var err error

	if r.gz != nil {
		err = r.gz.Close()
	}

	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}

	written := r.written
	r.file, r.writer, r.gz, r.path = nil, nil, nil, ""

	if err != nil {
		return written, fmt.Errorf("close recording: %w", err)
	}

	return written, nil
}
