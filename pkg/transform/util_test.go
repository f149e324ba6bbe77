package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"
)

func diff(t *testing.T, want, got any, opts ...cmp.Option) {
	t.Helper()
	if d := cmp.Diff(want, got, opts...); d != "" {
		t.Error(d)
	}
}

func assertNear(t *testing.T, got, want r3.Vec, epsilon float64) {
	t.Helper()
	if d := r3.Norm(r3.Sub(got, want)); d > epsilon {
		t.Fatalf("got %v, want %v (off by %g)", got, want, d)
	}
}

// cloud is a minimal Dataset used by the tests.
type cloud struct {
	geom        Geometry
	invalidated int
	replaced    int
	last        Transformer
}

func newCloud(pts ...r3.Vec) *cloud {
	return &cloud{geom: Geometry{Points: append([]r3.Vec(nil), pts...)}}
}

func (c *cloud) CopyGeometry() Geometry {
	return Geometry{
		Points:  append([]r3.Vec(nil), c.geom.Points...),
		Normals: append([]r3.Vec(nil), c.geom.Normals...),
	}
}

func (c *cloud) ReplaceGeometry(g Geometry) {
	c.geom = g
	c.replaced++
}

func (c *cloud) InvalidateSpatialIndexes() { c.invalidated++ }

func (c *cloud) Points() []r3.Vec { return c.geom.Points }

func (c *cloud) RecordTransform(t Transformer) { c.last = t }
