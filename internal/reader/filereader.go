package reader

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Recording file extensions.
const (
	ExtRaw        = ".trr"
	ExtCompressed = ".trz"
)

// RecordInterval paces playback at the 60 Hz simulation rate.
const RecordInterval = time.Second / 60

// FileReader plays back a recording at the simulation rate. Setting Interval
// to zero disables pacing.
type FileReader struct {
	Interval time.Duration

	content  *bufio.Reader
	lastRead time.Time
	log      zerolog.Logger
	closers  []func() error
}

// NewFileReader opens a .trr or .trz recording.
func NewFileReader(file string, log zerolog.Logger) (*FileReader, error) {
	ext := filepath.Ext(file)
	if ext != ExtRaw && ext != ExtCompressed {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	fh, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	closers := []func() error{fh.Close}

	var content io.Reader = fh

	if ext == ExtCompressed {
		gz, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()

			return nil, fmt.Errorf("create gzip reader: %w", err)
		}

		content = gz
		closers = append([]func() error{gz.Close}, closers...)
	}

	return &FileReader{
		Interval: RecordInterval,
		content:  bufio.NewReader(content),
		log:      log,
		closers:  closers,
	}, nil
}

// Read returns the next record, or io.EOF at the end of the recording.
func (r *FileReader) Read() (int, []byte, error) {
	record, err := readRecord(r.content)
	if err != nil {
		return 0, nil, err
	}

	if r.Interval > 0 && !r.lastRead.IsZero() {
		if wait := r.Interval - time.Since(r.lastRead); wait > 0 {
			timer := time.NewTimer(wait)
			<-timer.C
		}
	}

	r.lastRead = time.Now()

	return len(record), record, nil
}

func (r *FileReader) Close() error {
	var firstErr error

	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.closers = nil

	return firstErr
}
