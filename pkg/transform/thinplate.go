package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Basis is the radial kernel of a thin-plate spline.
type Basis int

const (
	// Basis2D is U(r) = r²·log r, the classic thin-plate kernel.
	Basis2D Basis = iota
	// Basis3D is U(r) = r.
	Basis3D
)

// ParseBasis parses "2d" or "3d".
func ParseBasis(s string) (Basis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2d":
		return Basis2D, nil
	case "3d":
		return Basis3D, nil
	}
	return 0, fmt.Errorf("transform: unknown spline mode %q, want \"2d\" or \"3d\"", s)
}

func (b Basis) String() string {
	switch b {
	case Basis2D:
		return "2d"
	case Basis3D:
		return "3d"
	}
	return fmt.Sprintf("Basis(%d)", int(b))
}

func (b Basis) valid() bool { return b == Basis2D || b == Basis3D }

// minLandmarks is the fewest landmarks that determine the affine part.
func (b Basis) minLandmarks() int {
	if b == Basis3D {
		return 4
	}
	return 3
}

// minAffineRank is the rank the centered source landmarks must reach.
func (b Basis) minAffineRank() int {
	if b == Basis3D {
		return 3
	}
	return 2
}

func (b Basis) u(r float64) float64 {
	if b == Basis3D {
		return r
	}
	if r == 0 {
		return 0
	}
	return r * r * math.Log(r)
}

// du is dU/dr.
func (b Basis) du(r float64) float64 {
	if b == Basis3D {
		return 1
	}
	if r == 0 {
		return 0
	}
	return r * (1 + 2*math.Log(r))
}

const (
	// DefaultInverseTolerance is the residual at which Newton inversion stops.
	DefaultInverseTolerance = 1e-9
	// DefaultMaxInverseIterations bounds Newton inversion per point.
	DefaultMaxInverseIterations = 500

	tpsRcond       = 1e-12
	affineRankTol  = 1e-9
	minNewtonScale = 1.0 / 1024
)

// ThinPlate is a thin-plate-spline warp that maps each source landmark
// exactly onto its target landmark. Solving is lazy: any mutation drops the
// cached coefficients and the next evaluation recomputes them.
type ThinPlate struct {
	source   []r3.Vec
	target   []r3.Vec
	basis    Basis
	sigma    float64
	inverted bool
	name     string
	comment  string

	// InverseTolerance and MaxInverseIterations control the Newton solve
	// used when the warp is inverted.
	InverseTolerance     float64
	MaxInverseIterations int

	sol    *tpsSolution
	seed   *tpsSolution
	seeded bool
}

// NewThinPlate returns an unconfigured warp with basis b and sigma 1.
func NewThinPlate(b Basis) *ThinPlate {
	return &ThinPlate{
		basis:                b,
		sigma:                1,
		InverseTolerance:     DefaultInverseTolerance,
		MaxInverseIterations: DefaultMaxInverseIterations,
	}
}

// NewThinPlateFromLandmarks returns a warp mapping source onto target.
func NewThinPlateFromLandmarks(source, target []r3.Vec, b Basis) (*ThinPlate, error) {
	if !b.valid() {
		return nil, fmt.Errorf("transform: unknown basis %v", b)
	}
	t := NewThinPlate(b)
	if err := t.SetPoints(source, target); err != nil {
		return nil, err
	}
	return t, nil
}

// SetPoints replaces both landmark sets.
func (t *ThinPlate) SetPoints(source, target []r3.Vec) error {
	if len(source) != len(target) {
		return fmt.Errorf("transform: %d source and %d target landmarks: %w", len(source), len(target), ErrMismatchedLandmarks)
	}
	if n, want := len(source), t.basis.minLandmarks(); n < want {
		return fmt.Errorf("transform: %d landmarks in %v mode, need %d: %w", n, t.basis, want, ErrInsufficientLandmarks)
	}
	for i := range source {
		if !finite(source[i]) || !finite(target[i]) {
			return fmt.Errorf("transform: landmark %d is not finite", i)
		}
	}
	t.source = append([]r3.Vec(nil), source...)
	t.target = append([]r3.Vec(nil), target...)
	t.invalidate()
	return nil
}

// SourcePoints returns a copy of the source landmarks.
func (t *ThinPlate) SourcePoints() []r3.Vec { return append([]r3.Vec(nil), t.source...) }

// TargetPoints returns a copy of the target landmarks.
func (t *ThinPlate) TargetPoints() []r3.Vec { return append([]r3.Vec(nil), t.target...) }

// Basis returns the radial kernel.
func (t *ThinPlate) Basis() Basis { return t.basis }

// SetBasis selects the radial kernel.
func (t *ThinPlate) SetBasis(b Basis) error {
	if !b.valid() {
		return fmt.Errorf("transform: unknown basis %v", b)
	}
	t.basis = b
	t.invalidate()
	return nil
}

// Sigma returns the radial scale.
func (t *ThinPlate) Sigma() float64 { return t.sigma }

// SetSigma sets the radial scale, which must be positive.
func (t *ThinPlate) SetSigma(s float64) error {
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("transform: sigma %g must be positive and finite", s)
	}
	t.sigma = s
	t.invalidate()
	return nil
}

// Name returns the transform's name.
func (t *ThinPlate) Name() string { return t.name }

// SetName sets the transform's name.
func (t *ThinPlate) SetName(name string) { t.name = name }

// Comment returns the free-form comment.
func (t *ThinPlate) Comment() string { return t.comment }

// SetComment sets the free-form comment.
func (t *ThinPlate) SetComment(c string) { t.comment = c }

// Inverted reports whether the warp currently maps targets to sources.
func (t *ThinPlate) Inverted() bool { return t.inverted }

// Invert flips the direction of the warp. The inverse has no closed form; it
// is evaluated per point by Newton iteration.
func (t *ThinPlate) Invert() error {
	t.inverted = !t.inverted
	return nil
}

// ComputeInverse returns an inverted clone and leaves t unchanged.
func (t *ThinPlate) ComputeInverse() (*ThinPlate, error) {
	c := t.Clone()
	if err := c.Invert(); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a deep copy of t without the cached solve.
func (t *ThinPlate) Clone() *ThinPlate {
	c := *t
	c.source = append([]r3.Vec(nil), t.source...)
	c.target = append([]r3.Vec(nil), t.target...)
	c.invalidate()
	return &c
}

func (t *ThinPlate) invalidate() {
	t.sol, t.seed, t.seeded = nil, nil, false
}

// Solve computes the spline coefficients if they are stale. Callers that
// share a warp between goroutines must call Solve before doing so.
func (t *ThinPlate) Solve() error {
	if t.sol == nil {
		sol, err := solveSpline(t.source, t.target, t.basis, t.sigma)
		if err != nil {
			return err
		}
		t.sol = sol
	}
	if t.inverted && !t.seeded {
		t.seeded = true
		// Newton falls back to the point itself without a seed spline.
		if seed, err := solveSpline(t.target, t.source, t.basis, t.sigma); err == nil {
			t.seed = seed
		}
	}
	return nil
}

// ApplyPoint maps p through the warp, or through its numerical inverse when
// inverted.
func (t *ThinPlate) ApplyPoint(p r3.Vec) (r3.Vec, error) {
	if err := t.Solve(); err != nil {
		return r3.Vec{}, err
	}
	if !t.inverted {
		return t.sol.eval(p), nil
	}
	q, ok := t.invertPoint(p)
	if !ok {
		return q, fmt.Errorf("transform: point (%g, %g, %g): %w", p.X, p.Y, p.Z, ErrInversionDidNotConverge)
	}
	return q, nil
}

// Apply maps every point of ds. When inverted, points whose inversion fails
// are skipped: they and their normals stay where they were, and their
// indices are reported in an *InversionError after the rest of the dataset
// has been written back.
func (t *ThinPlate) Apply(ds Dataset) error {
	if err := t.Solve(); err != nil {
		return err
	}
	g := ds.CopyGeometry()
	var failed []int
	for i, p := range g.Points {
		if t.inverted {
			q, ok := t.invertPoint(p)
			if !ok {
				failed = append(failed, i)
				continue
			}
			g.Points[i] = q
		} else {
			g.Points[i] = t.sol.eval(p)
		}
		if i < len(g.Normals) {
			g.Normals[i] = t.mapNormal(g.Points[i], p, g.Normals[i])
		}
	}
	ds.ReplaceGeometry(g)
	ds.InvalidateSpatialIndexes()
	recordProvenance(ds, t)
	if len(failed) > 0 {
		return &InversionError{Indices: failed, Total: len(g.Points)}
	}
	return nil
}

// mapNormal carries a normal through the local linearization of the warp.
// The forward map uses the cofactor of the Jacobian at the input point. For
// the inverse, the inverse-transpose of J⁻¹ is Jᵀ at the output point.
func (t *ThinPlate) mapNormal(out, in, n r3.Vec) r3.Vec {
	if t.inverted {
		return mapNormal(t.sol.jacobian(out).Transpose(), n)
	}
	return mapNormal(cofactor(t.sol.jacobian(in)), n)
}

// invertPoint finds x with f(x) = y by damped Newton iteration. It returns
// the best estimate and whether it met the tolerance.
func (t *ThinPlate) invertPoint(y r3.Vec) (r3.Vec, bool) {
	x := y
	if t.seed != nil {
		x = t.seed.eval(y)
	}
	tol := t.InverseTolerance
	if tol <= 0 {
		tol = DefaultInverseTolerance
	}
	tol *= math.Max(1, r3.Norm(y))
	maxIter := t.MaxInverseIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxInverseIterations
	}

	res := r3.Sub(t.sol.eval(x), y)
	dist := r3.Norm(res)
	if !finite(x) || math.IsNaN(dist) {
		x = y
		res = r3.Sub(t.sol.eval(x), y)
		dist = r3.Norm(res)
	}
	for range maxIter {
		if dist <= tol {
			return x, true
		}
		j := t.sol.jacobian(x)
		if nearSingular3(j) {
			return x, false
		}
		step := fromMgl(j.Inv().Mul3x1(toMgl(r3.Scale(-1, res))))
		moved := false
		for scale := 1.0; scale >= minNewtonScale; scale /= 2 {
			xn := r3.Add(x, r3.Scale(scale, step))
			rn := r3.Sub(t.sol.eval(xn), y)
			if dn := r3.Norm(rn); dn < dist {
				x, res, dist = xn, rn, dn
				moved = true
				break
			}
		}
		if !moved {
			break
		}
	}
	return x, dist <= tol
}

// tpsSolution holds solved coefficients:
// f(x) = a0 + x·ax + y·ay + z·az + Σ w_i U(|x - s_i| / σ).
type tpsSolution struct {
	basis      Basis
	sigma      float64
	src        []r3.Vec
	w          []r3.Vec
	a0         r3.Vec
	ax, ay, az r3.Vec
}

func (s *tpsSolution) eval(p r3.Vec) r3.Vec {
	out := r3.Add(s.a0, r3.Add(r3.Scale(p.X, s.ax), r3.Add(r3.Scale(p.Y, s.ay), r3.Scale(p.Z, s.az))))
	for i, c := range s.src {
		u := s.basis.u(r3.Norm(r3.Sub(p, c)) / s.sigma)
		out = r3.Add(out, r3.Scale(u, s.w[i]))
	}
	return out
}

// jacobian returns df/dx at p; column k is the derivative along axis k.
func (s *tpsSolution) jacobian(p r3.Vec) mgl64.Mat3 {
	cx, cy, cz := s.ax, s.ay, s.az
	for i, c := range s.src {
		d := r3.Sub(p, c)
		dist := r3.Norm(d)
		if dist == 0 {
			continue
		}
		g := s.basis.du(dist/s.sigma) / (s.sigma * dist)
		cx = r3.Add(cx, r3.Scale(g*d.X, s.w[i]))
		cy = r3.Add(cy, r3.Scale(g*d.Y, s.w[i]))
		cz = r3.Add(cz, r3.Scale(g*d.Z, s.w[i]))
	}
	return mgl64.Mat3FromCols(toMgl(cx), toMgl(cy), toMgl(cz))
}

// solveSpline solves the bordered system
//
//	[K  P] [w]   [t]
//	[Pᵀ 0] [a] = [0]
//
// with K_ij = U(|s_i - s_j| / σ) and P_i = [1 x_i y_i z_i], taking the
// minimum-norm solution so that planar landmarks in 2D mode still solve.
// The out-of-plane affine direction is then filled in by completePlane.
func solveSpline(src, dst []r3.Vec, b Basis, sigma float64) (*tpsSolution, error) {
	n := len(src)
	if n != len(dst) {
		return nil, fmt.Errorf("transform: %d source and %d target landmarks: %w", n, len(dst), ErrMismatchedLandmarks)
	}
	if want := b.minLandmarks(); n < want {
		return nil, fmt.Errorf("transform: %d landmarks in %v mode, need %d: %w", n, b, want, ErrInsufficientLandmarks)
	}
	frame := affineFrame(src)
	if rank, want := frame.rank, b.minAffineRank(); rank < want {
		return nil, fmt.Errorf("transform: landmarks span %d dimensions in %v mode, need %d: %w", rank, b, want, ErrInsufficientLandmarks)
	}

	size := n + 4
	l := mat.NewDense(size, size, nil)
	rhs := mat.NewDense(size, 3, nil)
	for i := range n {
		for j := i + 1; j < n; j++ {
			u := b.u(r3.Norm(r3.Sub(src[i], src[j])) / sigma)
			l.Set(i, j, u)
			l.Set(j, i, u)
		}
		row := [4]float64{1, src[i].X, src[i].Y, src[i].Z}
		for k, v := range row {
			l.Set(i, n+k, v)
			l.Set(n+k, i, v)
		}
		rhs.Set(i, 0, dst[i].X)
		rhs.Set(i, 1, dst[i].Y)
		rhs.Set(i, 2, dst[i].Z)
	}

	var svd mat.SVD
	if !svd.Factorize(l, mat.SVDThin) {
		return nil, fmt.Errorf("transform: spline system factorization failed: %w", ErrInsufficientLandmarks)
	}
	rank := svd.Rank(tpsRcond)
	if rank == 0 {
		return nil, fmt.Errorf("transform: spline system has rank 0: %w", ErrInsufficientLandmarks)
	}
	var x mat.Dense
	svd.SolveTo(&x, rhs, rank)

	rowVec := func(i int) r3.Vec { return r3.Vec{X: x.At(i, 0), Y: x.At(i, 1), Z: x.At(i, 2)} }
	sol := &tpsSolution{
		basis: b,
		sigma: sigma,
		src:   append([]r3.Vec(nil), src...),
		w:     make([]r3.Vec, n),
		a0:    rowVec(n),
		ax:    rowVec(n + 1),
		ay:    rowVec(n + 2),
		az:    rowVec(n + 3),
	}
	for i := range n {
		sol.w[i] = rowVec(i)
	}
	if frame.rank == 2 {
		sol.completePlane(frame.normal, frame.centroid)
	}
	return sol, nil
}

func (s *tpsSolution) linearPart(v r3.Vec) r3.Vec {
	return r3.Add(r3.Scale(v.X, s.ax), r3.Add(r3.Scale(v.Y, s.ay), r3.Scale(v.Z, s.az)))
}

// completePlane fixes the affine image of the plane normal n for planar
// landmarks, which the minimum-norm solve leaves at zero. The normal maps to
// the normal of the image plane, scaled by the square root of the in-plane
// area change. Adding λ·(n, -n·c) to the affine rows leaves every landmark in
// place because all of them satisfy n·s = n·c.
func (s *tpsSolution) completePlane(n, c r3.Vec) {
	e1 := perpendicular(n)
	e2 := r3.Cross(n, e1)
	img := r3.Cross(s.linearPart(e1), s.linearPart(e2))
	var want r3.Vec
	if area := r3.Norm(img); area > 0 {
		want = r3.Scale(1/math.Sqrt(area), img)
	}
	lambda := r3.Sub(want, s.linearPart(n))
	s.ax = r3.Add(s.ax, r3.Scale(n.X, lambda))
	s.ay = r3.Add(s.ay, r3.Scale(n.Y, lambda))
	s.az = r3.Add(s.az, r3.Scale(n.Z, lambda))
	s.a0 = r3.Sub(s.a0, r3.Scale(r3.Dot(n, c), lambda))
}

// landmarkFrame describes the spread of a landmark set about its centroid.
type landmarkFrame struct {
	rank     int
	centroid r3.Vec
	// normal is the direction of least spread; for a planar set it is the
	// plane normal.
	normal r3.Vec
}

// affineFrame returns the number of independent directions spanned by the
// landmarks about their centroid, along with the direction of least spread.
func affineFrame(pts []r3.Vec) landmarkFrame {
	var f landmarkFrame
	for _, p := range pts {
		f.centroid = r3.Add(f.centroid, p)
	}
	f.centroid = r3.Scale(1/float64(len(pts)), f.centroid)
	m := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := r3.Sub(p, f.centroid)
		m.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFullV) {
		return f
	}
	vals := svd.Values(nil)
	top := floats.Max(vals)
	if top == 0 {
		return f
	}
	for _, v := range vals {
		if v > affineRankTol*top {
			f.rank++
		}
	}
	var v mat.Dense
	svd.VTo(&v)
	f.normal = r3.Unit(r3.Vec{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)})
	return f
}

func (t *ThinPlate) String() string {
	s := fmt.Sprintf("ThinPlate %q (%v, sigma %g, %d landmarks", t.name, t.basis, t.sigma, len(t.source))
	if t.inverted {
		s += ", inverted"
	}
	return s + ")"
}
