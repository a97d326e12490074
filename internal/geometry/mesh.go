// Package geometry holds triangle meshes for the track boundary and ground,
// indexed with an R-tree for ray queries.
package geometry

import (
	"errors"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	rectPadding  = 1e-6
	hitEpsilon   = 1e-9
	treeMinChild = 4
	treeMaxChild = 16
)

// ErrEmptyMesh is returned when a mesh is built with no triangles.
var ErrEmptyMesh = errors.New("mesh has no triangles")

// Triangle is a single mesh face.
type Triangle struct {
	A, B, C mgl64.Vec3
	rect    rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (t *Triangle) Bounds() rtreego.Rect {
	return t.rect
}

func newTriangle(a, b, c mgl64.Vec3) (*Triangle, error) {
	lo := mgl64.Vec3{
		math.Min(a[0], math.Min(b[0], c[0])),
		math.Min(a[1], math.Min(b[1], c[1])),
		math.Min(a[2], math.Min(b[2], c[2])),
	}
	hi := mgl64.Vec3{
		math.Max(a[0], math.Max(b[0], c[0])),
		math.Max(a[1], math.Max(b[1], c[1])),
		math.Max(a[2], math.Max(b[2], c[2])),
	}

	rect, err := paddedRect(lo, hi)
	if err != nil {
		return nil, err
	}

	return &Triangle{A: a, B: b, C: c, rect: rect}, nil
}

// paddedRect builds a rect with every side strictly positive, which rtreego
// requires.
func paddedRect(lo, hi mgl64.Vec3) (rtreego.Rect, error) {
	lengths := make([]float64, 3)
	origin := rtreego.Point{lo[0] - rectPadding, lo[1] - rectPadding, lo[2] - rectPadding}

	for i := range lengths {
		lengths[i] = hi[i] - lo[i] + 2*rectPadding
	}

	return rtreego.NewRect(origin, lengths)
}

// Intersect runs the Möller-Trumbore test and returns the ray parameter of
// the hit.
func (t *Triangle) Intersect(origin, direction mgl64.Vec3) (float64, bool) {
	edge1 := t.B.Sub(t.A)
	edge2 := t.C.Sub(t.A)
	p := direction.Cross(edge2)

	det := edge1.Dot(p)
	if math.Abs(det) < hitEpsilon {
		return 0, false
	}

	inv := 1 / det
	s := origin.Sub(t.A)

	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}

	q := s.Cross(edge1)

	v := direction.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}

	dist := edge2.Dot(q) * inv
	if dist <= hitEpsilon {
		return 0, false
	}

	return dist, true
}

// Mesh is an immutable set of triangles.
type Mesh struct {
	triangles []*Triangle
	tree      *rtreego.Rtree
}

// NewMesh indexes triangles given as consecutive vertex triples.
func NewMesh(vertices []mgl64.Vec3) (*Mesh, error) {
	if len(vertices) < 3 {
		return nil, ErrEmptyMesh
	}

	triangles := make([]*Triangle, 0, len(vertices)/3)
	spatials := make([]rtreego.Spatial, 0, len(vertices)/3)

	for i := 0; i+2 < len(vertices); i += 3 {
		t, err := newTriangle(vertices[i], vertices[i+1], vertices[i+2])
		if err != nil {
			return nil, err
		}

		triangles = append(triangles, t)
		spatials = append(spatials, t)
	}

	return &Mesh{
		triangles: triangles,
		tree:      rtreego.NewTree(3, treeMinChild, treeMaxChild, spatials...),
	}, nil
}

// Len returns the triangle count.
func (m *Mesh) Len() int {
	return len(m.triangles)
}

// Triangles returns the mesh faces.
func (m *Mesh) Triangles() []*Triangle {
	return m.triangles
}

// Raycast returns the nearest hit within maxRange along a unit direction.
func (m *Mesh) Raycast(origin, direction mgl64.Vec3, maxRange float64) (mgl64.Vec3, bool) {
	end := origin.Add(direction.Mul(maxRange))

	lo := mgl64.Vec3{math.Min(origin[0], end[0]), math.Min(origin[1], end[1]), math.Min(origin[2], end[2])}
	hi := mgl64.Vec3{math.Max(origin[0], end[0]), math.Max(origin[1], end[1]), math.Max(origin[2], end[2])}

	query, err := paddedRect(lo, hi)
	if err != nil {
		return mgl64.Vec3{}, false
	}

	best := math.Inf(1)

	for _, candidate := range m.tree.SearchIntersect(query) {
		t, ok := candidate.(*Triangle)
		if !ok {
			continue
		}

		if dist, hit := t.Intersect(origin, direction); hit && dist < best && dist <= maxRange {
			best = dist
		}
	}

	if math.IsInf(best, 1) {
		return mgl64.Vec3{}, false
	}

	return origin.Add(direction.Mul(best)), true
}
