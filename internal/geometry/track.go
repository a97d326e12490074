package geometry

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zetetos/racetrack-env/internal/sensors"
)

const (
	// DefaultMaxRange bounds every ray query.
	DefaultMaxRange = sensors.DefaultSentinel
	// WallFooting is how far walls extend below the ground ribbon.
	WallFooting = 1.0
)

// TrackMeshes pairs the boundary walls with the drivable ground.
type TrackMeshes struct {
	Walls    *Mesh
	Ground   *Mesh
	MaxRange float64
}

// BuildTrackMeshes extrudes a centre line into two vertical side walls and a
// flat ground ribbon of the given half width. Walls start WallFooting below
// the ground so rays cast at ground level still hit them.
func BuildTrackMeshes(waypoints []mgl64.Vec3, halfWidth, wallHeight float64) (*TrackMeshes, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("build track meshes: %w", ErrEmptyMesh)
	}

	left := make([]mgl64.Vec3, len(waypoints))
	right := make([]mgl64.Vec3, len(waypoints))

	for i, wp := range waypoints {
		n := sideNormal(waypoints, i)
		left[i] = wp.Add(n.Mul(halfWidth))
		right[i] = wp.Sub(n.Mul(halfWidth))
	}

	up := mgl64.Vec3{0, 0, wallHeight}
	down := mgl64.Vec3{0, 0, WallFooting}
	var walls, ground []mgl64.Vec3

	for i := 0; i < len(waypoints)-1; i++ {
		walls = appendQuad(walls, left[i].Sub(down), left[i+1].Sub(down), left[i+1].Add(up), left[i].Add(up))
		walls = appendQuad(walls, right[i].Sub(down), right[i+1].Sub(down), right[i+1].Add(up), right[i].Add(up))
		ground = appendQuad(ground, left[i], left[i+1], right[i+1], right[i])
	}

	wallMesh, err := NewMesh(walls)
	if err != nil {
		return nil, fmt.Errorf("build wall mesh: %w", err)
	}

	groundMesh, err := NewMesh(ground)
	if err != nil {
		return nil, fmt.Errorf("build ground mesh: %w", err)
	}

	return &TrackMeshes{Walls: wallMesh, Ground: groundMesh, MaxRange: DefaultMaxRange}, nil
}

// Raycast implements sensors.Raycaster.
func (t *TrackMeshes) Raycast(origin, direction mgl64.Vec3, surface sensors.Surface) (mgl64.Vec3, bool) {
	mesh := t.Walls
	if surface == sensors.SurfaceGround {
		mesh = t.Ground
	}

	if mesh == nil {
		return mgl64.Vec3{}, false
	}

	return mesh.Raycast(origin, direction, t.MaxRange)
}

// sideNormal averages the horizontal left normals of the segments touching
// waypoint i.
func sideNormal(waypoints []mgl64.Vec3, i int) mgl64.Vec3 {
	var sum mgl64.Vec3

	if i > 0 {
		sum = sum.Add(segmentNormal(waypoints[i-1], waypoints[i]))
	}

	if i < len(waypoints)-1 {
		sum = sum.Add(segmentNormal(waypoints[i], waypoints[i+1]))
	}

	if sum.Len() == 0 {
		return segmentNormal(waypoints[0], waypoints[len(waypoints)-1])
	}

	return sum.Normalize()
}

func segmentNormal(a, b mgl64.Vec3) mgl64.Vec3 {
	d := b.Sub(a)
	n := mgl64.Vec3{-d[1], d[0], 0}

	if n.Len() == 0 {
		return mgl64.Vec3{0, 1, 0}
	}

	return n.Normalize()
}

func appendQuad(dst []mgl64.Vec3, a, b, c, d mgl64.Vec3) []mgl64.Vec3 {
	return append(dst, a, b, c, a, c, d)
}
