// Package sensors casts a fixed set of directional rays from the vehicle and
// reports the distance to the nearest track boundary along each one.
package sensors

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultSentinel is reported for rays that hit nothing within range.
const DefaultSentinel = 1000.0

// Surface selects which boundary mesh a ray is tested against.
type Surface int

const (
	// SurfaceBoundary is the track edge geometry used by horizontal sensors.
	SurfaceBoundary Surface = iota
	// SurfaceGround is the drivable surface used by the downward sensor.
	SurfaceGround
)

// Sensor names of the default direction set.
const (
	Left          = "left"
	Right         = "right"
	Forward       = "forward"
	ForwardLeft1  = "forwardLeft1"
	ForwardLeft2  = "forwardLeft2"
	ForwardRight1 = "forwardRight1"
	ForwardRight2 = "forwardRight2"
	Downward      = "downward"
)

// Direction is a named unit vector in vehicle-local space, +X forward, +Y
// left and +Z up.
type Direction struct {
	Name    string
	Local   mgl64.Vec3
	Surface Surface
}

// Raycaster finds the nearest forward intersection of a ray with the given
// surface.
type Raycaster interface {
	Raycast(origin, direction mgl64.Vec3, surface Surface) (hit mgl64.Vec3, ok bool)
}

// Visualizer receives ray segments for display. It has no influence on the
// reported distances.
type Visualizer interface {
	UpdateRay(name string, from, to mgl64.Vec3)
}

// Reading maps sensor name to intersection distance.
type Reading map[string]float64

// DefaultDirections returns the eight sensor directions used by the racetrack.
func DefaultDirections() []Direction {
	diagonal := math.Sqrt2 / 2

	return []Direction{
		{Name: Left, Local: mgl64.Vec3{0, 1, 0}},
		{Name: Right, Local: mgl64.Vec3{0, -1, 0}},
		{Name: Forward, Local: mgl64.Vec3{1, 0, 0}},
		{Name: ForwardLeft1, Local: mgl64.Vec3{math.Cos(math.Pi / 8), math.Sin(math.Pi / 8), 0}},
		{Name: ForwardLeft2, Local: mgl64.Vec3{diagonal, diagonal, 0}},
		{Name: ForwardRight1, Local: mgl64.Vec3{math.Cos(-math.Pi / 8), math.Sin(-math.Pi / 8), 0}},
		{Name: ForwardRight2, Local: mgl64.Vec3{diagonal, -diagonal, 0}},
		{Name: Downward, Local: mgl64.Vec3{0, 0, -1}, Surface: SurfaceGround},
	}
}

// Array casts its directions against a Raycaster.
type Array struct {
	directions []Direction
	raycaster  Raycaster
	sentinel   float64
	visualizer Visualizer
}

// Option configures an Array.
type Option func(*Array)

// WithSentinel overrides the no-hit distance.
func WithSentinel(distance float64) Option {
	return func(a *Array) {
		a.sentinel = distance
	}
}

// WithVisualizer enables ray display updates.
func WithVisualizer(v Visualizer) Option {
	return func(a *Array) {
		a.visualizer = v
	}
}

// NewArray builds a sensor array. Directions are normalised on construction.
func NewArray(directions []Direction, raycaster Raycaster, opts ...Option) *Array {
	normalised := make([]Direction, len(directions))
	for i, d := range directions {
		normalised[i] = d
		normalised[i].Local = d.Local.Normalize()
	}

	a := &Array{
		directions: normalised,
		raycaster:  raycaster,
		sentinel:   DefaultSentinel,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Directions returns the configured direction set.
func (a *Array) Directions() []Direction {
	out := make([]Direction, len(a.directions))
	copy(out, a.directions)

	return out
}

// Sentinel returns the distance reported for clear rays.
func (a *Array) Sentinel() float64 {
	return a.sentinel
}

// Cast rotates every direction by heading about the vertical axis and returns
// the distance to the first hit along each ray.
func (a *Array) Cast(position mgl64.Vec3, heading float64) Reading {
	rotation := mgl64.Rotate3DZ(heading)
	reading := make(Reading, len(a.directions))

	for _, d := range a.directions {
		world := rotation.Mul3x1(d.Local)
		distance := a.sentinel
		end := position.Add(world.Mul(a.sentinel))

		if a.raycaster != nil {
			if hit, ok := a.raycaster.Raycast(position, world, d.Surface); ok {
				length := hit.Sub(position).Len()
				if !math.IsNaN(length) && !math.IsInf(length, 0) && length < a.sentinel {
					distance = length
					end = hit
				}
			}
		}

		reading[d.Name] = distance

		if a.visualizer != nil {
			a.visualizer.UpdateRay(d.Name, position, end)
		}
	}

	return reading
}

// MinExcluding returns the shortest distance among sensors not named in
// exclude, and false when no sensor qualifies.
func (r Reading) MinExcluding(exclude ...string) (float64, bool) {
	best := math.Inf(1)
	found := false

	for name, distance := range r {
		skip := false

		for _, e := range exclude {
			if name == e {
				skip = true

				break
			}
		}

		if skip {
			continue
		}

		if distance < best {
			best = distance
			found = true
		}
	}

	return best, found
}
