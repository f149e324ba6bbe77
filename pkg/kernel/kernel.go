// Package kernel defines the abstract geometry kernel interface and the
// triangle mesh it produces. Meshes are the datasets transforms are applied
// to; the kernel exists to generate them from simple solid descriptions.
package kernel

import "gonum.org/v1/gonum/spatial/r3"

// DefaultMeshCells is the marching cubes resolution used when a caller does
// not pick one.
const DefaultMeshCells = 64

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max r3.Vec)
}

// Kernel is the abstract geometry kernel interface.
type Kernel interface {
	// Primitives
	Box(size r3.Vec) Solid // minimum corner at the origin
	Cylinder(height, radius float64) Solid
	Sphere(radius float64) Solid

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Placement
	Translate(s Solid, d r3.Vec) Solid
	Rotate(s Solid, degrees r3.Vec) Solid // Euler angles, applied x then y then z

	// Mesh output. cells <= 0 selects DefaultMeshCells.
	ToMesh(s Solid, cells int) (*Mesh, error)
}
