package physics

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zetetos/racetrack-env/internal/reader"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// Replay feeds recorded or externally simulated snapshots into the loop.
// Controls, recreation and gravity cannot influence a replay; the last
// requested values are kept for inspection.
type Replay struct {
	mu       sync.Mutex
	source   reader.Reader
	current  models.Snapshot
	controls models.Controls
	gravity  float64
	resets   int
	invalid  int
	log      zerolog.Logger
}

func NewReplay(source reader.Reader, log zerolog.Logger) *Replay {
	return &Replay{source: source, log: log}
}

// Step ignores dt and returns the next snapshot from the source. Invalid
// records are skipped. Source errors, including io.EOF, are returned as is.
func (r *Replay) Step(time.Duration) (models.Snapshot, error) {
	for {
		n, buf, err := r.source.Read()
		if err != nil {
			return r.Snapshot(), err
		}

		if n == 0 {
			r.log.Debug().Msg("no data received")

			continue
		}

		snap, err := reader.Decode(buf[:n])
		if err != nil {
			r.mu.Lock()
			r.invalid++
			r.mu.Unlock()

			r.log.Error().Err(err).Msg("failed to decode snapshot")

			continue
		}

		r.mu.Lock()
		r.current = snap
		r.mu.Unlock()

		return snap, nil
	}
}

func (r *Replay) Snapshot() models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current
}

func (r *Replay) SetControls(c models.Controls) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.controls = c
}

// Controls returns the last controls the loop asked for.
func (r *Replay) Controls() models.Controls {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.controls
}

func (r *Replay) Recreate(spawn models.Coordinate, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resets++
	r.log.Debug().Stringer("spawn", spawn).Msg("reset requested during replay")
}

// Resets returns how many times the loop asked for a fresh vehicle.
func (r *Replay) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.resets
}

// Invalid returns how many records failed to decode.
func (r *Replay) Invalid() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.invalid
}

func (r *Replay) SetGravity(z float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gravity = z
}

func (r *Replay) Close() error {
	if err := r.source.Close(); err != nil {
		return fmt.Errorf("close replay source: %w", err)
	}

	return nil
}
