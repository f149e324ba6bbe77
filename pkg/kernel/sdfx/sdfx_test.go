package sdfx

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/transform"
)

// testCells keeps marching cubes cheap in tests.
const testCells = 32

func TestBox(t *testing.T) {
	k := New()
	box := k.Box(r3.Vec{X: 100, Y: 50, Z: 25})
	mesh, err := k.ToMesh(box, testCells)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("mesh is empty")
	}
	triCount := mesh.TriangleCount()
	if triCount == 0 {
		t.Fatal("expected non-zero triangle count")
	}
	if len(mesh.Vertices) != len(mesh.Normals) {
		t.Fatalf("vertices length %d != normals length %d", len(mesh.Vertices), len(mesh.Normals))
	}
	if len(mesh.Indices) != triCount*3 {
		t.Fatalf("indices length %d != triCount*3 %d", len(mesh.Indices), triCount*3)
	}
	// Welding shares corners between triangles.
	if mesh.VertexCount() >= len(mesh.Indices) {
		t.Errorf("vertex count %d not below index count %d", mesh.VertexCount(), len(mesh.Indices))
	}
	for _, i := range mesh.Indices {
		if int(i) >= mesh.VertexCount() {
			t.Fatalf("index %d out of range for %d vertices", i, mesh.VertexCount())
		}
	}
}

func TestSphereNormalsPointOutward(t *testing.T) {
	k := New()
	mesh, err := k.ToMesh(k.Sphere(10), testCells)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	g := mesh.CopyGeometry()
	for i, p := range g.Points {
		if r := r3.Norm(p); math.Abs(r-10) > 1 {
			t.Fatalf("vertex %d at radius %f, want ~10", i, r)
		}
		if r3.Dot(g.Normals[i], r3.Unit(p)) < 0.5 {
			t.Fatalf("normal %d = %v does not point away from the center", i, g.Normals[i])
		}
	}
}

func TestCylinder(t *testing.T) {
	k := New()
	cyl := k.Cylinder(50, 10)
	mesh, err := k.ToMesh(cyl, 0)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("mesh is empty")
	}
	t.Logf("cylinder triangle count: %d", mesh.TriangleCount())
}

func TestDifference(t *testing.T) {
	k := New()

	box := k.Box(r3.Vec{X: 100, Y: 100, Z: 100})
	cyl := k.Translate(k.Cylinder(120, 20), r3.Vec{X: 50, Y: 50, Z: 50})
	d := k.Difference(box, cyl)
	mesh, err := k.ToMesh(d, testCells)
	if err != nil {
		t.Fatalf("ToMesh(diff) failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("difference mesh is empty")
	}
	// The hole runs through the center, so no vertex sits on the axis.
	if got := mesh.VerticesWithin(r3.Vec{X: 45, Y: 45, Z: 10}, r3.Vec{X: 55, Y: 55, Z: 90}); len(got) != 0 {
		t.Errorf("found %d vertices inside the hole", len(got))
	}
}

func TestUnionAndIntersection(t *testing.T) {
	k := New()
	a := k.Box(r3.Vec{X: 50, Y: 50, Z: 50})
	b := k.Translate(k.Box(r3.Vec{X: 50, Y: 50, Z: 50}), r3.Vec{X: 30})

	min, max := k.Union(a, b).BoundingBox()
	if math.Abs(min.X) > 0.5 || math.Abs(max.X-80) > 0.5 {
		t.Errorf("union x extent = [%f, %f], want [0, 80]", min.X, max.X)
	}

	mesh, err := k.ToMesh(k.Intersection(a, b), testCells)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	lo, hi, ok := mesh.Bounds()
	if !ok {
		t.Fatal("intersection mesh is empty")
	}
	if lo.X < 29 || hi.X > 51 {
		t.Errorf("intersection x extent = [%f, %f], want ~[30, 50]", lo.X, hi.X)
	}
}

func TestTranslate(t *testing.T) {
	k := New()
	box := k.Box(r3.Vec{X: 10, Y: 10, Z: 10})
	translated := k.Translate(box, r3.Vec{X: 100, Y: 200, Z: 300})

	min, max := translated.BoundingBox()

	const tol = 0.5
	expectMin := r3.Vec{X: 100, Y: 200, Z: 300}
	expectMax := r3.Vec{X: 110, Y: 210, Z: 310}
	if r3.Norm(r3.Sub(min, expectMin)) > tol {
		t.Errorf("min = %v, expected ~%v", min, expectMin)
	}
	if r3.Norm(r3.Sub(max, expectMax)) > tol {
		t.Errorf("max = %v, expected ~%v", max, expectMax)
	}
}

func TestRotate(t *testing.T) {
	k := New()
	box := k.Box(r3.Vec{X: 10, Y: 2, Z: 2})
	min, max := k.Rotate(box, r3.Vec{Z: 90}).BoundingBox()
	if math.Abs(max.Y-10) > 0.5 || math.Abs(min.X+2) > 0.5 {
		t.Errorf("rotated bounds = %v..%v, want x in [-2, 0], y in [0, 10]", min, max)
	}
}

func TestMeshTakesLinearTransform(t *testing.T) {
	k := New()
	mesh, err := k.ToMesh(k.Box(r3.Vec{X: 1, Y: 1, Z: 1}), testCells)
	if err != nil {
		t.Fatal(err)
	}
	before := mesh.Points()

	tr := transform.NewLinear().
		Translate(r3.Vec{X: 5}).
		RotateZ(transform.Deg(90), transform.CurrentPosition)
	if err := tr.Apply(mesh); err != nil {
		t.Fatal(err)
	}
	after := mesh.Points()
	for i := range before {
		want, _ := tr.ApplyPoint(before[i])
		if r3.Norm(r3.Sub(after[i], want)) > 1e-9 {
			t.Fatalf("vertex %d = %v, want %v", i, after[i], want)
		}
	}
}
