package kernel

import (
	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/transform"
)

// indexTolerance is the half-width of the box each vertex occupies in the
// spatial index.
const indexTolerance = 1e-9

// Mesh is a triangle mesh. All arrays are flat: vertices has 3 floats per
// vertex (x,y,z), normals has 3 floats per vertex or is empty, indices has 3
// uint32s per triangle.
//
// Mesh implements transform.Dataset. The vertex index used by NearestVertex
// and VerticesWithin is built on first use and dropped whenever a transform
// rewrites the geometry. A Mesh is not safe for concurrent use.
type Mesh struct {
	Vertices []float64 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float64 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	Name     string    `json:"name"`

	index     *rtreego.Rtree
	transform transform.Transformer
}

var (
	_ transform.Dataset           = (*Mesh)(nil)
	_ transform.TransformRecorder = (*Mesh)(nil)
)

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Vertex returns vertex i.
func (m *Mesh) Vertex(i int) r3.Vec {
	return r3.Vec{X: m.Vertices[3*i], Y: m.Vertices[3*i+1], Z: m.Vertices[3*i+2]}
}

// Points returns a copy of the vertex positions.
func (m *Mesh) Points() []r3.Vec {
	return unpack(m.Vertices)
}

// CopyGeometry returns the vertices and normals as vectors.
func (m *Mesh) CopyGeometry() transform.Geometry {
	return transform.Geometry{Points: unpack(m.Vertices), Normals: unpack(m.Normals)}
}

// ReplaceGeometry overwrites the vertices and normals. Triangle indices are
// left alone.
func (m *Mesh) ReplaceGeometry(g transform.Geometry) {
	m.Vertices = pack(g.Points)
	m.Normals = pack(g.Normals)
}

// InvalidateSpatialIndexes drops the vertex index.
func (m *Mesh) InvalidateSpatialIndexes() {
	m.index = nil
}

// RecordTransform remembers t as the transform that produced the current
// geometry.
func (m *Mesh) RecordTransform(t transform.Transformer) {
	m.transform = t
}

// Transform returns the transform most recently applied to m, or nil.
func (m *Mesh) Transform() transform.Transformer {
	return m.transform
}

// HasIndex reports whether the vertex index is currently built.
func (m *Mesh) HasIndex() bool {
	return m.index != nil
}

// Bounds returns the axis-aligned bounding box of the vertices. ok is false
// for an empty mesh.
func (m *Mesh) Bounds() (min, max r3.Vec, ok bool) {
	if m.IsEmpty() {
		return r3.Vec{}, r3.Vec{}, false
	}
	min = m.Vertex(0)
	max = min
	for i := 1; i < m.VertexCount(); i++ {
		v := m.Vertex(i)
		min = r3.Vec{X: fmin(min.X, v.X), Y: fmin(min.Y, v.Y), Z: fmin(min.Z, v.Z)}
		max = r3.Vec{X: fmax(max.X, v.X), Y: fmax(max.Y, v.Y), Z: fmax(max.Z, v.Z)}
	}
	return min, max, true
}

// NearestVertex returns the index of the vertex closest to p.
func (m *Mesh) NearestVertex(p r3.Vec) (int, bool) {
	if m.IsEmpty() {
		return 0, false
	}
	hit := m.vertexIndex().NearestNeighbor(rtreego.Point{p.X, p.Y, p.Z})
	if hit == nil {
		return 0, false
	}
	return hit.(vertexEntry).i, true
}

// VerticesWithin returns the indices of the vertices inside the box spanned
// by lo and hi, in no particular order.
func (m *Mesh) VerticesWithin(lo, hi r3.Vec) []int {
	if m.IsEmpty() {
		return nil
	}
	lo, hi = r3.Vec{X: fmin(lo.X, hi.X), Y: fmin(lo.Y, hi.Y), Z: fmin(lo.Z, hi.Z)},
		r3.Vec{X: fmax(lo.X, hi.X), Y: fmax(lo.Y, hi.Y), Z: fmax(lo.Z, hi.Z)}
	// Pad by the vertex half-width so points on the box boundary count.
	lo = r3.Sub(lo, r3.Vec{X: 2 * indexTolerance, Y: 2 * indexTolerance, Z: 2 * indexTolerance})
	hi = r3.Add(hi, r3.Vec{X: 2 * indexTolerance, Y: 2 * indexTolerance, Z: 2 * indexTolerance})
	bb, err := rtreego.NewRectFromPoints(rtreego.Point{lo.X, lo.Y, lo.Z}, rtreego.Point{hi.X, hi.Y, hi.Z})
	if err != nil {
		return nil
	}
	var out []int
	for _, s := range m.vertexIndex().SearchIntersect(bb) {
		out = append(out, s.(vertexEntry).i)
	}
	return out
}

func (m *Mesh) vertexIndex() *rtreego.Rtree {
	if m.index != nil {
		return m.index
	}
	objs := make([]rtreego.Spatial, m.VertexCount())
	for i := range objs {
		v := m.Vertex(i)
		objs[i] = vertexEntry{i: i, p: rtreego.Point{v.X, v.Y, v.Z}}
	}
	m.index = rtreego.NewTree(3, 4, 16, objs...)
	return m.index
}

type vertexEntry struct {
	i int
	p rtreego.Point
}

func (v vertexEntry) Bounds() rtreego.Rect {
	return v.p.ToRect(indexTolerance)
}

func unpack(flat []float64) []r3.Vec {
	if len(flat) == 0 {
		return nil
	}
	out := make([]r3.Vec, len(flat)/3)
	for i := range out {
		out[i] = r3.Vec{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
	}
	return out
}

func pack(vs []r3.Vec) []float64 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out
}

func fmin(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func fmax(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
