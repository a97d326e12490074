// Package reader moves vehicle snapshots between the environment and external
// physics engines or recordings. A snapshot travels as a fixed size little
// endian record prefixed with a magic header.
package reader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// RecordSize is the encoded size of one snapshot.
const RecordSize = 4 + 4 + 5*8 + 1

var (
	// Magic prefixes every snapshot record.
	Magic = []byte{0x52, 0x54, 0x53, 0x31}

	ErrBadMagic     = errors.New("snapshot record has bad magic header")
	ErrShortRecord  = errors.New("snapshot record too short")
	ErrUnsupported  = errors.New("unsupported file extension")
	ErrNotRecording = errors.New("not recording")
	ErrRecording    = errors.New("already recording")
)

// Reader yields raw snapshot records.
type Reader interface {
	Read() (int, []byte, error)
	Close() error
}

// Encode serialises a snapshot into a record.
func Encode(s models.Snapshot) []byte {
	buf := make([]byte, RecordSize)

	copy(buf, Magic)
	binary.LittleEndian.PutUint32(buf[4:], s.Tick)

	for i, v := range []float64{s.Position.X, s.Position.Y, s.Position.Z, s.Heading, s.Speed} {
		binary.LittleEndian.PutUint64(buf[8+i*8:], math.Float64bits(v))
	}

	buf[RecordSize-1] = s.Controls.Bits()

	return buf
}

// Decode parses a single record.
func Decode(record []byte) (models.Snapshot, error) {
	if len(record) < RecordSize {
		return models.Snapshot{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(record))
	}

	return DecodeStream(kaitai.NewStream(bytes.NewReader(record)))
}

// DecodeStream parses the next record from a kaitai stream.
func DecodeStream(stream *kaitai.Stream) (models.Snapshot, error) {
	var s models.Snapshot

	magic, err := stream.ReadBytes(len(Magic))
	if err != nil {
		return s, err
	}

	if !bytes.Equal(magic, Magic) {
		return s, fmt.Errorf("%w: % x", ErrBadMagic, magic)
	}

	if s.Tick, err = stream.ReadU4le(); err != nil {
		return s, fmt.Errorf("read tick: %w", err)
	}

	fields := []*float64{&s.Position.X, &s.Position.Y, &s.Position.Z, &s.Heading, &s.Speed}
	for _, f := range fields {
		if *f, err = stream.ReadF8le(); err != nil {
			return s, fmt.Errorf("read snapshot field: %w", err)
		}
	}

	bits, err := stream.ReadU1()
	if err != nil {
		return s, fmt.Errorf("read controls: %w", err)
	}

	s.Controls = models.ControlsFromBits(bits)

	return s, nil
}

// readRecord reads exactly one record from r.
func readRecord(r io.Reader) ([]byte, error) {
	record := make([]byte, RecordSize)

	if _, err := io.ReadFull(r, record); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated record", ErrShortRecord)
		}

		return nil, err
	}

	return record, nil
}
