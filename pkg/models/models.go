package models

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Coordinate represents a coordinate in 3D world space. Z is the vertical axis.
type Coordinate struct {
	X float64 `json:"x" csv:"x"`
	Y float64 `json:"y" csv:"y"`
	Z float64 `json:"z" csv:"z"`
}

// Vec returns the coordinate as a vector for geometry calculations.
func (c Coordinate) Vec() mgl64.Vec3 {
	return mgl64.Vec3{c.X, c.Y, c.Z}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("x:%.3f,y:%.3f,z:%.3f", c.X, c.Y, c.Z)
}

// CoordinateFromVec converts a geometry vector back to a Coordinate.
func CoordinateFromVec(v mgl64.Vec3) Coordinate {
	return Coordinate{X: v[0], Y: v[1], Z: v[2]}
}

// Snapshot is the vehicle state reported by the physics provider for one tick.
type Snapshot struct {
	Tick     uint32
	Position Coordinate
	Heading  float64 // radians about the vertical axis, 0 points along +X
	Speed    float64
	Controls Controls
}

// Phase is the lifecycle phase of an episode.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseRunning
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome annotates the transition that ends an episode.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWin
	OutcomeDeath
	OutcomeStagnation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeWin:
		return "win"
	case OutcomeDeath:
		return "death"
	case OutcomeStagnation:
		return "stagnation"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether the outcome ends an episode.
func (o Outcome) Terminal() bool {
	return o != OutcomeNone
}
