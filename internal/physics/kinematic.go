package physics

import (
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zetetos/racetrack-env/internal/sensors"
	"github.com/zetetos/racetrack-env/internal/units"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// KinematicConfig tunes the headless vehicle model. Speeds are in world units
// per second.
type KinematicConfig struct {
	Acceleration        float64
	ReverseAcceleration float64
	BrakeDeceleration   float64
	BoostFactor         float64
	Drag                float64
	MaxSpeed            float64
	TurnRate            float64 // radians per second at full lock
	MinSteerSpeed       float64
	RideHeight          float64
	ProbeLift           float64
}

func DefaultKinematicConfig() KinematicConfig {
	return KinematicConfig{
		Acceleration:        6,
		ReverseAcceleration: 3,
		BrakeDeceleration:   12,
		BoostFactor:         1.6,
		Drag:                0.4,
		MaxSpeed:            14,
		TurnRate:            1.8,
		MinSteerSpeed:       0.05,
		RideHeight:          0.3,
		ProbeLift:           1,
	}
}

// Kinematic integrates heading, speed and vertical velocity without any
// collision response. The vehicle rests on the ground mesh while it is under
// the wheels and falls freely otherwise.
type Kinematic struct {
	mu       sync.Mutex
	cfg      KinematicConfig
	ground   sensors.Raycaster
	position mgl64.Vec3
	heading  float64
	speed    float64
	vz       float64
	gravity  float64
	grounded bool
	moved    float64
	tick     uint32
	controls models.Controls
}

// NewKinematic creates a vehicle at spawn. Gravity starts at zero.
func NewKinematic(cfg KinematicConfig, ground sensors.Raycaster, spawn models.Coordinate, heading float64) *Kinematic {
	k := &Kinematic{cfg: cfg, ground: ground}
	k.recreate(spawn, heading)

	return k
}

func (k *Kinematic) Step(dt time.Duration) (models.Snapshot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := dt.Seconds()
	c := k.controls

	if k.grounded {
		k.drive(c, s)
	}

	prev := k.position
	k.position[0] += math.Cos(k.heading) * k.speed * s
	k.position[1] += math.Sin(k.heading) * k.speed * s

	k.vz += k.gravity * s
	k.position[2] += k.vz * s

	k.grounded = false
	if z, ok := k.groundHeight(); ok && k.position[2] <= z+k.cfg.RideHeight {
		k.position[2] = z + k.cfg.RideHeight
		k.vz = math.Max(k.vz, 0)
		k.grounded = true
	}

	k.moved = k.position.Sub(prev).Len()
	k.tick++

	return k.snapshot(), nil
}

func (k *Kinematic) drive(c models.Controls, s float64) {
	accel := 0.0
	if c.Up {
		accel += k.cfg.Acceleration
	}

	if c.Down {
		accel -= k.cfg.ReverseAcceleration
	}

	maxSpeed := k.cfg.MaxSpeed
	if c.Boost {
		accel *= k.cfg.BoostFactor
		maxSpeed *= k.cfg.BoostFactor
	}

	k.speed += accel * s

	if c.Brake {
		k.speed = towardsZero(k.speed, k.cfg.BrakeDeceleration*s)
	}

	k.speed -= k.speed * k.cfg.Drag * s
	k.speed = mgl64.Clamp(k.speed, -maxSpeed/2, maxSpeed)

	if math.Abs(k.speed) < k.cfg.MinSteerSpeed {
		return
	}

	turn := 0.0
	if c.Left {
		turn++
	}

	if c.Right {
		turn--
	}

	if k.speed < 0 {
		turn = -turn
	}

	k.heading = units.NormaliseRadians(k.heading + turn*k.cfg.TurnRate*s)
}

func (k *Kinematic) groundHeight() (float64, bool) {
	if k.ground == nil {
		return 0, false
	}

	origin := k.position.Add(mgl64.Vec3{0, 0, k.cfg.ProbeLift})

	hit, ok := k.ground.Raycast(origin, mgl64.Vec3{0, 0, -1}, sensors.SurfaceGround)
	if !ok {
		return 0, false
	}

	return hit[2], true
}

func towardsZero(v, by float64) float64 {
	if math.Abs(v) <= by {
		return 0
	}

	return v - math.Copysign(by, v)
}

func (k *Kinematic) Snapshot() models.Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.snapshot()
}

// snapshot reports speed as the distance covered during the last tick.
func (k *Kinematic) snapshot() models.Snapshot {
	return models.Snapshot{
		Tick:     k.tick,
		Position: models.CoordinateFromVec(k.position),
		Heading:  k.heading,
		Speed:    k.moved,
		Controls: k.controls,
	}
}

func (k *Kinematic) SetControls(c models.Controls) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.controls = c
}

func (k *Kinematic) Recreate(spawn models.Coordinate, heading float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.recreate(spawn, heading)
}

func (k *Kinematic) recreate(spawn models.Coordinate, heading float64) {
	k.position = spawn.Vec()
	k.heading = units.NormaliseRadians(heading)
	k.speed, k.vz, k.moved = 0, 0, 0
	k.grounded = false
	k.controls = models.Controls{}
}

func (k *Kinematic) SetGravity(z float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.gravity = z
}

func (k *Kinematic) Close() error { return nil }
