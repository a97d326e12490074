// Package physics supplies vehicle state to the environment loop. The loop
// treats a provider as a black box that reports pose and speed and accepts
// control flags.
package physics

import (
	"time"

	"github.com/zetetos/racetrack-env/pkg/models"
)

// Provider advances a vehicle simulation.
type Provider interface {
	// Step advances the simulation by dt and returns the resulting snapshot.
	Step(dt time.Duration) (models.Snapshot, error)
	Snapshot() models.Snapshot
	SetControls(c models.Controls)
	// Recreate puts a fresh vehicle at spawn, at rest, facing heading.
	Recreate(spawn models.Coordinate, heading float64)
	SetGravity(z float64)
	Close() error
}
