// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// weldTolerance is the grid spacing used to merge coincident triangle
// corners into shared vertices.
const weldTolerance = 1e-9

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max r3.Vec) {
	bb := s.s.BoundingBox()
	return fromV3(bb.Min), fromV3(bb.Max)
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct{}

// New returns a new SdfxKernel.
func New() *SdfxKernel {
	return &SdfxKernel{}
}

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid.
func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*sdfxSolid).s
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3) kernel.Solid {
	return &sdfxSolid{s: s}
}

func toV3(v r3.Vec) v3.Vec   { return v3.Vec{X: v.X, Y: v.Y, Z: v.Z} }
func fromV3(v v3.Vec) r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Box creates a box with the given dimensions and its minimum corner at the
// origin. sdf.Box3D centers the box at the origin, so we translate by
// half-dimensions.
func (k *SdfxKernel) Box(size r3.Vec) kernel.Solid {
	s, err := sdf.Box3D(toV3(size), 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Box3D: %v", err))
	}
	m := sdf.Translate3d(toV3(r3.Scale(0.5, size)))
	return wrap(sdf.Transform3D(s, m))
}

// Cylinder creates a cylinder along z, centered at the origin.
func (k *SdfxKernel) Cylinder(height, radius float64) kernel.Solid {
	s, err := sdf.Cylinder3D(height, radius, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Cylinder3D: %v", err))
	}
	return wrap(s)
}

// Sphere creates a sphere centered at the origin.
func (k *SdfxKernel) Sphere(radius float64) kernel.Solid {
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Sphere3D: %v", err))
	}
	return wrap(s)
}

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

// Intersection returns the intersection of two solids.
func (k *SdfxKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Intersect3D(unwrap(a), unwrap(b)))
}

// Translate moves a solid by d.
func (k *SdfxKernel) Translate(s kernel.Solid, d r3.Vec) kernel.Solid {
	return wrap(sdf.Transform3D(unwrap(s), sdf.Translate3d(toV3(d))))
}

// Rotate rotates a solid by Euler angles (degrees) around X, Y, Z axes.
func (k *SdfxKernel) Rotate(s kernel.Solid, degrees r3.Vec) kernel.Solid {
	xRad := degrees.X * math.Pi / 180.0
	yRad := degrees.Y * math.Pi / 180.0
	zRad := degrees.Z * math.Pi / 180.0

	m := sdf.RotateZ(zRad).Mul(sdf.RotateY(yRad)).Mul(sdf.RotateX(xRad))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// ToMesh converts a solid to a triangle mesh using marching cubes.
// Coincident triangle corners are welded into one vertex whose normal is the
// normalized sum of the adjacent face normals.
func (k *SdfxKernel) ToMesh(s kernel.Solid, cells int) (*kernel.Mesh, error) {
	if cells <= 0 {
		cells = kernel.DefaultMeshCells
	}
	renderer := render.NewMarchingCubesUniform(cells)
	triangles := render.ToTriangles(unwrap(s), renderer)

	type key [3]int64
	lookup := make(map[key]uint32)
	var points, normals []r3.Vec
	indices := make([]uint32, 0, 3*len(triangles))

	for _, tri := range triangles {
		n := fromV3(tri.Normal())
		if math.IsNaN(n.X) || math.IsNaN(n.Y) || math.IsNaN(n.Z) {
			// Zero-area triangle.
			continue
		}
		for j := 0; j < 3; j++ {
			v := fromV3(tri[j])
			kk := key{
				int64(math.Round(v.X / weldTolerance)),
				int64(math.Round(v.Y / weldTolerance)),
				int64(math.Round(v.Z / weldTolerance)),
			}
			idx, ok := lookup[kk]
			if !ok {
				idx = uint32(len(points))
				lookup[kk] = idx
				points = append(points, v)
				normals = append(normals, r3.Vec{})
			}
			normals[idx] = r3.Add(normals[idx], n)
			indices = append(indices, idx)
		}
	}

	m := &kernel.Mesh{Indices: indices}
	m.Vertices = make([]float64, 0, 3*len(points))
	m.Normals = make([]float64, 0, 3*len(points))
	for i, p := range points {
		n := normals[i]
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		m.Vertices = append(m.Vertices, p.X, p.Y, p.Z)
		m.Normals = append(m.Normals, n.X, n.Y, n.Z)
	}
	return m, nil
}
