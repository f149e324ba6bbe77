package transform

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// axisEpsilon is the length below which a rotation axis is degenerate.
const axisEpsilon = 1e-12

// Angle is a rotation angle stored in radians.
type Angle float64

// Deg returns an Angle of d degrees.
func Deg(d float64) Angle { return Angle(d * math.Pi / 180) }

// Rad returns an Angle of r radians.
func Rad(r float64) Angle { return Angle(r) }

// Radians returns the angle in radians.
func (a Angle) Radians() float64 { return float64(a) }

// Degrees returns the angle in degrees.
func (a Angle) Degrees() float64 { return float64(a) * 180 / math.Pi }

type pivotKind uint8

const (
	pivotLocal pivotKind = iota
	pivotCurrent
	pivotPoint
)

// Pivot selects the fixed point of a rotation or scale.
type Pivot struct {
	kind  pivotKind
	point r3.Vec
}

var (
	// LocalOrigin rotates or scales about the frame origin.
	LocalOrigin = Pivot{}

	// CurrentPosition uses the current translation of the stack as pivot.
	CurrentPosition = Pivot{kind: pivotCurrent}
)

// PivotAt returns a pivot at the explicit point p.
func PivotAt(p r3.Vec) Pivot { return Pivot{kind: pivotPoint, point: p} }

// resolve returns the pivot point for the given matrix, and false when no
// sandwich is needed.
func (p Pivot) resolve(current Matrix4) (r3.Vec, bool) {
	switch p.kind {
	case pivotCurrent:
		pos := current.Translation()
		return pos, r3.Norm(pos) > 0
	case pivotPoint:
		return p.point, true
	}
	return r3.Vec{}, false
}

func (p Pivot) String() string {
	switch p.kind {
	case pivotCurrent:
		return "current-position"
	case pivotPoint:
		return fmt.Sprintf("(%g, %g, %g)", p.point.X, p.point.Y, p.point.Z)
	}
	return "local-origin"
}

// AxisAngle returns the rotation of angle about axis. The axis need not be
// unit length. The matrix is built from the unit quaternion of the half
// angle.
func AxisAngle(axis r3.Vec, angle Angle) (mgl64.Mat3, error) {
	n := r3.Norm(axis)
	if n < axisEpsilon || math.IsNaN(n) {
		return mgl64.Mat3{}, fmt.Errorf("transform: axis (%g, %g, %g): %w", axis.X, axis.Y, axis.Z, ErrDegenerateAxis)
	}
	u := r3.Scale(1/n, axis)
	half := float64(angle) / 2
	s := math.Sin(half)
	q := quat.Number{Real: math.Cos(half), Imag: u.X * s, Jmag: u.Y * s, Kmag: u.Z * s}
	q = quat.Scale(1/quat.Abs(q), q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mgl64.Mat3FromRows(
		mgl64.Vec3{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		mgl64.Vec3{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		mgl64.Vec3{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	), nil
}

// RotationMatrix is AxisAngle lifted to a homogeneous matrix.
func RotationMatrix(axis r3.Vec, angle Angle) (Matrix4, error) {
	r, err := AxisAngle(axis, angle)
	if err != nil {
		return Matrix4{}, err
	}
	return Matrix4{m: r.Mat4()}, nil
}

// Axis names a coordinate axis.
type Axis int

// The coordinate axes.
const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

func (a Axis) rotation(angle Angle) Matrix4 {
	switch a {
	case AxisY:
		return Matrix4{m: mgl64.HomogRotate3DY(float64(angle))}
	case AxisZ:
		return Matrix4{m: mgl64.HomogRotate3DZ(float64(angle))}
	}
	return Matrix4{m: mgl64.HomogRotate3DX(float64(angle))}
}

// sandwich returns T(p)·m·T(-p), which applies m about the fixed point p.
func sandwich(m Matrix4, p r3.Vec) Matrix4 {
	return Mul(TranslationMatrix(p), Mul(m, TranslationMatrix(r3.Scale(-1, p))))
}

// orthonormalize returns the rotation closest to the linear block of a,
// computed as U·Vᵀ from its singular value decomposition. A reflection is
// folded out by negating the third column first.
func orthonormalize(a Matrix4) *mat.Dense {
	l := mat.NewDense(3, 3, nil)
	for i := range 3 {
		for j := range 3 {
			l.Set(i, j, a.At(i, j))
		}
	}
	if mat.Det(l) < 0 {
		for i := range 3 {
			l.Set(i, 2, -l.At(i, 2))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(l, mat.SVDFull) {
		return l
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	return &r
}

// eulerDegrees decomposes the rotation part of a into angles about x, y and
// z in degrees, such that rotating about y, then x, then z reproduces it
// (M = Rz·Rx·Ry).
func eulerDegrees(a Matrix4) r3.Vec {
	const eps = 0.001
	o := orthonormalize(a)

	x2, y2, z2 := o.At(2, 0), o.At(2, 1), o.At(2, 2)
	x3, y3, z3 := o.At(1, 0), o.At(1, 1), o.At(1, 2)

	d1 := math.Hypot(x2, z2)
	cosTheta, sinTheta := 1.0, 0.0
	if d1 >= eps {
		cosTheta, sinTheta = z2/d1, x2/d1
	}
	theta := math.Atan2(sinTheta, cosTheta)

	d := math.Sqrt(x2*x2 + y2*y2 + z2*z2)
	sinPhi, cosPhi := 0.0, 1.0
	switch {
	case d < eps:
	case d1 < eps:
		sinPhi, cosPhi = y2/d, z2/d
	default:
		sinPhi, cosPhi = y2/d, (x2*x2+z2*z2)/(d1*d)
	}
	phi := math.Atan2(sinPhi, cosPhi)

	x3p := x3*cosTheta - z3*sinTheta
	y3p := -sinPhi*sinTheta*x3 + cosPhi*y3 - sinPhi*cosTheta*z3
	d2 := math.Hypot(x3p, y3p)
	cosAlpha, sinAlpha := 1.0, 0.0
	if d2 >= eps {
		cosAlpha, sinAlpha = y3p/d2, x3p/d2
	}
	alpha := math.Atan2(sinAlpha, cosAlpha)

	toDeg := 180 / math.Pi
	return r3.Vec{X: phi * toDeg, Y: -theta * toDeg, Z: alpha * toDeg}
}
