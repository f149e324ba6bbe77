package transform

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// warpLandmarks returns the corners and centre of a unit cube, and the
// same points with the centre pushed off-axis and one corner pulled in.
func warpLandmarks() (src, dst []r3.Vec) {
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				src = append(src, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	src = append(src, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	dst = append([]r3.Vec(nil), src...)
	dst[8] = r3.Add(dst[8], r3.Vec{X: 0.08, Y: -0.05, Z: 0.03})
	dst[7] = r3.Sub(dst[7], r3.Vec{X: 0.05, Y: 0.05, Z: 0.05})
	return src, dst
}

func tetra() []r3.Vec {
	return []r3.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}}
}

func TestThinPlateInterpolates(t *testing.T) {
	src, dst := warpLandmarks()
	for _, b := range []Basis{Basis2D, Basis3D} {
		for _, sigma := range []float64{1, 0.5, 3} {
			t.Run(b.String(), func(t *testing.T) {
				tp, err := NewThinPlateFromLandmarks(src, dst, b)
				if err != nil {
					t.Fatal(err)
				}
				if err := tp.SetSigma(sigma); err != nil {
					t.Fatal(err)
				}
				if err := tp.Solve(); err != nil {
					t.Fatalf("Solve() error = %v", err)
				}
				for i := range src {
					got, err := tp.ApplyPoint(src[i])
					if err != nil {
						t.Fatal(err)
					}
					assertNear(t, got, dst[i], 1e-8)
				}
			})
		}
	}
}

func TestThinPlatePlanarLandmarks2D(t *testing.T) {
	src := []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 0.4}}
	dst := make([]r3.Vec, len(src))
	for i, p := range src {
		dst[i] = r3.Add(p, r3.Vec{X: 0.1 * p.Y * p.Y, Y: -0.2 * p.X})
	}
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis2D)
	if err != nil {
		t.Fatal(err)
	}
	for i := range src {
		got, err := tp.ApplyPoint(src[i])
		if err != nil {
			t.Fatalf("ApplyPoint() error = %v", err)
		}
		assertNear(t, got, dst[i], 1e-8)
	}
}

func TestThinPlateUniformScale(t *testing.T) {
	src := tetra()
	dst := make([]r3.Vec, len(src))
	for i, p := range src {
		dst[i] = r3.Scale(2.5, p)
	}
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	if err := tp.Solve(); err != nil {
		t.Fatal(err)
	}

	centroid := r3.Vec{X: 0.25, Y: 0.25, Z: 0.25}
	got, err := tp.ApplyPoint(centroid)
	if err != nil {
		t.Fatal(err)
	}
	assertNear(t, got, r3.Scale(2.5, centroid), 1e-6)

	far := r3.Vec{X: -3, Y: 7, Z: 2}
	got, _ = tp.ApplyPoint(far)
	assertNear(t, got, r3.Scale(2.5, far), 1e-6)
}

func TestThinPlateInsufficientLandmarks(t *testing.T) {
	tests := []struct {
		name  string
		basis Basis
		src   []r3.Vec
	}{
		{"two points in 3d", Basis3D, []r3.Vec{{}, {X: 1}}},
		{"three points in 3d", Basis3D, []r3.Vec{{}, {X: 1}, {Y: 1}}},
		{"two points in 2d", Basis2D, []r3.Vec{{}, {X: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := NewThinPlate(tt.basis)
			if err := tp.SetPoints(tt.src, tt.src); !errors.Is(err, ErrInsufficientLandmarks) {
				t.Errorf("SetPoints() error = %v, want ErrInsufficientLandmarks", err)
			}
			if err := tp.Solve(); !errors.Is(err, ErrInsufficientLandmarks) {
				t.Errorf("Solve() error = %v, want ErrInsufficientLandmarks", err)
			}
			if _, err := tp.ApplyPoint(r3.Vec{}); !errors.Is(err, ErrInsufficientLandmarks) {
				t.Errorf("ApplyPoint() error = %v, want ErrInsufficientLandmarks", err)
			}
		})
	}
}

func TestThinPlateDegenerateLandmarks(t *testing.T) {
	tests := []struct {
		name  string
		basis Basis
		src   []r3.Vec
	}{
		{"coplanar in 3d", Basis3D, []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}, {X: 0.3, Y: 0.6}}},
		{"collinear in 2d", Basis2D, []r3.Vec{{}, {X: 1}, {X: 2}, {X: 5}}},
		{"coincident", Basis2D, []r3.Vec{{X: 1}, {X: 1}, {X: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, err := NewThinPlateFromLandmarks(tt.src, tt.src, tt.basis)
			if err != nil {
				t.Fatalf("NewThinPlateFromLandmarks() error = %v", err)
			}
			if err := tp.Solve(); !errors.Is(err, ErrInsufficientLandmarks) {
				t.Errorf("Solve() error = %v, want ErrInsufficientLandmarks", err)
			}
		})
	}
}

func TestThinPlateMismatchedLandmarks(t *testing.T) {
	tp := NewThinPlate(Basis3D)
	err := tp.SetPoints(tetra(), tetra()[:3])
	if !errors.Is(err, ErrMismatchedLandmarks) {
		t.Errorf("SetPoints() error = %v, want ErrMismatchedLandmarks", err)
	}
}

func TestThinPlateSigma(t *testing.T) {
	tp := NewThinPlate(Basis2D)
	if tp.Sigma() != 1 {
		t.Errorf("default Sigma() = %g, want 1", tp.Sigma())
	}
	for _, s := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := tp.SetSigma(s); err == nil {
			t.Errorf("SetSigma(%g) succeeded, want error", s)
		}
	}
	if tp.Sigma() != 1 {
		t.Errorf("rejected SetSigma changed Sigma() to %g", tp.Sigma())
	}
}

func TestThinPlateMutationInvalidatesSolve(t *testing.T) {
	src := tetra()
	tp, err := NewThinPlateFromLandmarks(src, src, Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	p := r3.Vec{X: 0.2, Y: 0.3, Z: 0.1}
	got, _ := tp.ApplyPoint(p)
	assertNear(t, got, p, 1e-9)

	shifted := make([]r3.Vec, len(src))
	for i, q := range src {
		shifted[i] = r3.Add(q, r3.Vec{Z: 1})
	}
	if err := tp.SetPoints(src, shifted); err != nil {
		t.Fatal(err)
	}
	got, _ = tp.ApplyPoint(p)
	assertNear(t, got, r3.Add(p, r3.Vec{Z: 1}), 1e-9)
}

func TestThinPlateInverse(t *testing.T) {
	src, dst := warpLandmarks()
	for _, b := range []Basis{Basis2D, Basis3D} {
		t.Run(b.String(), func(t *testing.T) {
			fwd, err := NewThinPlateFromLandmarks(src, dst, b)
			if err != nil {
				t.Fatal(err)
			}
			inv, err := fwd.ComputeInverse()
			if err != nil {
				t.Fatal(err)
			}
			if !inv.Inverted() || fwd.Inverted() {
				t.Fatalf("Inverted() = %v on inverse, %v on forward", inv.Inverted(), fwd.Inverted())
			}

			for i := range dst {
				got, err := inv.ApplyPoint(dst[i])
				if err != nil {
					t.Fatalf("inverse of landmark %d: %v", i, err)
				}
				assertNear(t, got, src[i], 1e-7)
			}
			for _, q := range []r3.Vec{{X: 0.3, Y: 0.6, Z: 0.2}, {X: 0.9, Y: 0.1, Z: 0.5}, {X: 1.4, Y: -0.2, Z: 0.7}} {
				x, err := inv.ApplyPoint(q)
				if err != nil {
					t.Fatalf("inverse of %v: %v", q, err)
				}
				back, _ := fwd.ApplyPoint(x)
				assertNear(t, back, q, 1e-7)
			}

			if err := inv.Invert(); err != nil {
				t.Fatal(err)
			}
			got, _ := inv.ApplyPoint(src[8])
			assertNear(t, got, dst[8], 1e-8)
		})
	}
}

func TestThinPlateApplyDataset(t *testing.T) {
	src := tetra()
	dst := make([]r3.Vec, len(src))
	for i, p := range src {
		dst[i] = r3.Add(r3.Scale(2, p), r3.Vec{X: 1})
	}
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis3D)
	if err != nil {
		t.Fatal(err)
	}

	ds := newCloud(r3.Vec{X: 0.5}, r3.Vec{Y: 2, Z: -1})
	ds.geom.Normals = []r3.Vec{{Z: 1}, r3.Unit(r3.Vec{X: 1, Y: 1})}
	if err := tp.Apply(ds); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	assertNear(t, ds.Points()[0], r3.Vec{X: 2}, 1e-9)
	assertNear(t, ds.Points()[1], r3.Vec{X: 1, Y: 4, Z: -2}, 1e-9)
	assertNear(t, ds.geom.Normals[0], r3.Vec{Z: 1}, 1e-9)
	assertNear(t, ds.geom.Normals[1], r3.Unit(r3.Vec{X: 1, Y: 1}), 1e-9)
	if ds.replaced != 1 || ds.invalidated != 1 {
		t.Errorf("replaced=%d invalidated=%d, want 1 and 1", ds.replaced, ds.invalidated)
	}
	if ds.last != Transformer(tp) {
		t.Error("dataset did not record the applied transform")
	}
}

func TestThinPlateApplyPartialFailure(t *testing.T) {
	src, dst := warpLandmarks()
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	if err := tp.Invert(); err != nil {
		t.Fatal(err)
	}
	tp.MaxInverseIterations = 1
	tp.InverseTolerance = 1e-300

	pts := []r3.Vec{{X: 0.31, Y: 0.62, Z: 0.17}, {X: 0.77, Y: 0.12, Z: 0.45}}
	ds := newCloud(pts...)
	err = tp.Apply(ds)

	if !errors.Is(err, ErrInversionDidNotConverge) {
		t.Fatalf("Apply() error = %v, want ErrInversionDidNotConverge", err)
	}
	var inv *InversionError
	if !errors.As(err, &inv) {
		t.Fatalf("Apply() error %T is not *InversionError", err)
	}
	diff(t, []int{0, 1}, inv.Indices)
	if inv.Total != 2 {
		t.Errorf("Total = %d, want 2", inv.Total)
	}
	if ds.replaced != 1 {
		t.Errorf("geometry was not written back after partial failure")
	}
	// Points that did not converge are skipped.
	diff(t, pts, ds.Points())
}

func TestThinPlateApplySkipsFailedNormals(t *testing.T) {
	src, dst := warpLandmarks()
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	if err := tp.Invert(); err != nil {
		t.Fatal(err)
	}
	tp.MaxInverseIterations = 1
	tp.InverseTolerance = 1e-300

	far := r3.Vec{X: 0.77, Y: 0.12, Z: 0.45}
	ds := newCloud(far)
	ds.geom.Normals = []r3.Vec{r3.Unit(r3.Vec{X: 1, Z: 1})}
	err = tp.Apply(ds)
	var inv *InversionError
	if !errors.As(err, &inv) {
		t.Fatalf("Apply() error = %v, want *InversionError", err)
	}
	assertNear(t, ds.Points()[0], far, 0)
	assertNear(t, ds.geom.Normals[0], r3.Unit(r3.Vec{X: 1, Z: 1}), 0)
}

// square is a planar 2D landmark set with a non-affine target.
func square() (src, dst []r3.Vec) {
	src = []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 0.5}}
	dst = []r3.Vec{{}, {X: 1.1}, {X: 0.1, Y: 0.9}, {X: 1.2, Y: 1.1}, {X: 0.55, Y: 0.45}}
	return src, dst
}

func TestThinPlatePlanarKeepsDepth(t *testing.T) {
	src := []r3.Vec{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
	dst := make([]r3.Vec, len(src))
	for i, p := range src {
		dst[i] = r3.Scale(2, p)
	}
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis2D)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tp.ApplyPoint(r3.Vec{X: 0.3, Y: 0.3, Z: 2})
	if err != nil {
		t.Fatal(err)
	}
	// An in-plane doubling quadruples area, so depth doubles.
	assertNear(t, got, r3.Vec{X: 0.6, Y: 0.6, Z: 4}, 1e-9)

	src, dst = square()
	tp, err = NewThinPlateFromLandmarks(src, dst, Basis2D)
	if err != nil {
		t.Fatal(err)
	}
	above, _ := tp.ApplyPoint(r3.Vec{X: 0.3, Y: 0.3, Z: 1})
	below, _ := tp.ApplyPoint(r3.Vec{X: 0.3, Y: 0.3, Z: -1})
	if above.Z <= 0 || below.Z >= 0 {
		t.Errorf("off-plane points mapped to z = %g and %g, want opposite signs", above.Z, below.Z)
	}
}

func TestThinPlatePlanarInverse(t *testing.T) {
	src, dst := square()
	fwd, err := NewThinPlateFromLandmarks(src, dst, Basis2D)
	if err != nil {
		t.Fatal(err)
	}
	inv, err := fwd.ComputeInverse()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []r3.Vec{{X: 0.3, Y: 0.6}, {X: 0.8, Y: 0.2}, {X: 0.4, Y: 0.4, Z: 0.5}} {
		q, err := fwd.ApplyPoint(p)
		if err != nil {
			t.Fatal(err)
		}
		back, err := inv.ApplyPoint(q)
		if err != nil {
			t.Fatalf("inverse of %v: %v", q, err)
		}
		assertNear(t, back, p, 1e-7)
	}
}

func TestThinPlateCloneDropsCache(t *testing.T) {
	src, dst := warpLandmarks()
	tp, err := NewThinPlateFromLandmarks(src, dst, Basis2D)
	if err != nil {
		t.Fatal(err)
	}
	tp.SetName("warp")
	if err := tp.Solve(); err != nil {
		t.Fatal(err)
	}
	c := tp.Clone()
	if c.sol != nil {
		t.Error("clone carried the cached solve")
	}
	if err := c.SetSigma(4); err != nil {
		t.Fatal(err)
	}
	if tp.Sigma() != 1 || c.Name() != "warp" {
		t.Errorf("Sigma() = %g on original, Name() = %q on clone", tp.Sigma(), c.Name())
	}
	c.SourcePoints()[0] = r3.Vec{X: 100}
	if c.SourcePoints()[0] == (r3.Vec{X: 100}) {
		t.Error("SourcePoints returned internal storage")
	}
}

func TestParseBasis(t *testing.T) {
	tests := []struct {
		in      string
		want    Basis
		wantErr bool
	}{
		{"2d", Basis2D, false},
		{"3D", Basis3D, false},
		{" 3d ", Basis3D, false},
		{"4d", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBasis(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBasis(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseBasis(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
