// Package polyline tracks a vehicle's progress along an ordered sequence of
// track waypoints.
//
// The closest-point search is windowed: each update only inspects the
// previous, current and next segment relative to the last known segment, so
// the cost per tick is constant. A vehicle that jumps across more than one
// segment between updates (a respawn, or a track that crosses over itself)
// can be matched to the wrong segment; the index stays within bounds and the
// error is not reported.
package polyline

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrTooFewWaypoints   = errors.New("polyline needs at least two waypoints")
	ErrDegenerateSegment = errors.New("polyline segment has zero length")
)

// Location is the result of a closest-point search.
type Location struct {
	ClosestPoint mgl64.Vec3
	Distance     float64
	SegmentIndex int
}

// State is the tracker state after the latest update.
type State struct {
	LastSegmentIndex int
	SegmentIndex     int
	ClosestPoint     mgl64.Vec3
	ClosestDistance  float64
	PercentCompleted float64
}

// Tracker locates a position on a fixed polyline.
type Tracker struct {
	waypoints []mgl64.Vec3
	// cumulative[i] is the length of the polyline from waypoint 0 to waypoint i.
	cumulative []float64
	state      State
}

// NewTracker builds a tracker over the given waypoints. The waypoints are
// copied; the last one marks track completion.
func NewTracker(waypoints []mgl64.Vec3) (*Tracker, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewWaypoints, len(waypoints))
	}

	points := make([]mgl64.Vec3, len(waypoints))
	copy(points, waypoints)

	cumulative := make([]float64, len(points))
	for i := 0; i < len(points)-1; i++ {
		length := segmentLength(points, i)
		if length <= 0 {
			return nil, fmt.Errorf("%w: segment %d", ErrDegenerateSegment, i)
		}

		cumulative[i+1] = cumulative[i] + length
	}

	return &Tracker{
		waypoints:  points,
		cumulative: cumulative,
	}, nil
}

// SegmentCount returns the number of segments, N-1.
func (t *Tracker) SegmentCount() int {
	return len(t.waypoints) - 1
}

// Length returns the total polyline length.
func (t *Tracker) Length() float64 {
	return t.cumulative[len(t.cumulative)-1]
}

// Waypoints returns a copy of the tracked waypoints.
func (t *Tracker) Waypoints() []mgl64.Vec3 {
	out := make([]mgl64.Vec3, len(t.waypoints))
	copy(out, t.waypoints)

	return out
}

// Locate finds the closest point to pos on the segments adjacent to
// lastSegmentIndex. Ties keep the lowest segment index.
func (t *Tracker) Locate(pos mgl64.Vec3, lastSegmentIndex int) Location {
	last := t.clampSegment(lastSegmentIndex)
	first := max(0, last-1)
	end := min(t.SegmentCount()-1, last+1)

	best := Location{Distance: -1}

	for i := first; i <= end; i++ {
		closest := closestPointOnSegment(t.waypoints[i], t.waypoints[i+1], pos)
		distance := closest.Sub(pos).Len()

		if best.Distance < 0 || distance < best.Distance {
			best = Location{
				ClosestPoint: closest,
				Distance:     distance,
				SegmentIndex: i,
			}
		}
	}

	return best
}

// CompletionPercent converts a position on segmentIndex into the percentage of
// the total polyline length covered so far. It is not clamped against earlier
// values: moving backwards lowers it.
func (t *Tracker) CompletionPercent(segmentIndex int, closestPoint mgl64.Vec3) float64 {
	segment := t.clampSegment(segmentIndex)
	covered := t.cumulative[segment] + closestPoint.Sub(t.waypoints[segment]).Len()

	return covered / t.Length() * 100
}

// Update runs a search from the stored window anchor and advances it.
func (t *Tracker) Update(pos mgl64.Vec3) State {
	location := t.Locate(pos, t.state.SegmentIndex)

	t.state = State{
		LastSegmentIndex: t.state.SegmentIndex,
		SegmentIndex:     location.SegmentIndex,
		ClosestPoint:     location.ClosestPoint,
		ClosestDistance:  location.Distance,
		PercentCompleted: t.CompletionPercent(location.SegmentIndex, location.ClosestPoint),
	}

	return t.state
}

// State returns the result of the latest update.
func (t *Tracker) State() State {
	return t.state
}

// Reset moves the search window back to the first segment.
func (t *Tracker) Reset() {
	t.state = State{}
}

func (t *Tracker) clampSegment(index int) int {
	return min(max(index, 0), t.SegmentCount()-1)
}

func segmentLength(points []mgl64.Vec3, i int) float64 {
	return points[i+1].Sub(points[i]).Len()
}

// closestPointOnSegment projects p onto [start, end] with the parameter
// clamped to the segment.
func closestPointOnSegment(start, end, p mgl64.Vec3) mgl64.Vec3 {
	direction := end.Sub(start)
	param := p.Sub(start).Dot(direction) / direction.Dot(direction)

	switch {
	case param <= 0:
		return start
	case param >= 1:
		return end
	default:
		return start.Add(direction.Mul(param))
	}
}
