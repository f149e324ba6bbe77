package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tolerances used when no explicit tolerance is given. config.Apply
// overrides them from the configuration file.
var (
	// IdentityTolerance is the element-wise tolerance of IsIdentity.
	IdentityTolerance = 1e-8

	// SingularTolerance is the relative determinant below which a matrix is
	// treated as singular.
	SingularTolerance = 1e-12
)

// Matrix4 is a 4x4 homogeneous matrix. Element access is row-major. The zero
// value is the zero matrix, not the identity; use Identity.
type Matrix4 struct {
	m mgl64.Mat4
}

// Identity returns the 4x4 identity matrix.
func Identity() Matrix4 {
	return Matrix4{m: mgl64.Ident4()}
}

// NewMatrix4 builds a matrix from rows.
func NewMatrix4(rows [4][4]float64) Matrix4 {
	var a Matrix4
	for i := range 4 {
		for j := range 4 {
			a.m.Set(i, j, rows[i][j])
		}
	}
	return a
}

// MatrixFromMgl wraps an mgl64 matrix.
func MatrixFromMgl(m mgl64.Mat4) Matrix4 { return Matrix4{m: m} }

// Mgl returns the underlying column-major mgl64 matrix.
func (a Matrix4) Mgl() mgl64.Mat4 { return a.m }

// TranslationMatrix returns the matrix translating by v.
func TranslationMatrix(v r3.Vec) Matrix4 {
	return Matrix4{m: mgl64.Translate3D(v.X, v.Y, v.Z)}
}

// ScaleMatrix returns the matrix scaling by s along each axis.
func ScaleMatrix(s r3.Vec) Matrix4 {
	return Matrix4{m: mgl64.Scale3D(s.X, s.Y, s.Z)}
}

// Mul returns the product a·b, which applies b first and then a.
func Mul(a, b Matrix4) Matrix4 {
	return Matrix4{m: a.m.Mul4(b.m)}
}

// At returns the element at row i, column j.
func (a Matrix4) At(i, j int) float64 { return a.m.At(i, j) }

// Set returns a copy of a with element (i, j) replaced by v.
func (a Matrix4) Set(i, j int, v float64) Matrix4 {
	a.m.Set(i, j, v)
	return a
}

// Rows returns the matrix as row-major nested arrays.
func (a Matrix4) Rows() [4][4]float64 {
	var rows [4][4]float64
	for i := range 4 {
		for j := range 4 {
			rows[i][j] = a.m.At(i, j)
		}
	}
	return rows
}

// Determinant returns the determinant of a.
func (a Matrix4) Determinant() float64 { return a.m.Det() }

// Transpose returns the transpose of a.
func (a Matrix4) Transpose() Matrix4 { return Matrix4{m: a.m.Transpose()} }

// IsAffine reports whether the bottom row is exactly [0 0 0 1].
func (a Matrix4) IsAffine() bool {
	return a.m.At(3, 0) == 0 && a.m.At(3, 1) == 0 && a.m.At(3, 2) == 0 && a.m.At(3, 3) == 1
}

// Inverse returns the inverse of a. It fails with ErrSingularMatrix when the
// determinant is negligible relative to the Hadamard bound of the rows, so
// that uniformly small but well-conditioned matrices are still invertible.
func (a Matrix4) Inverse() (Matrix4, error) {
	det := a.m.Det()
	bound := 1.0
	n := 4
	if a.IsAffine() {
		n = 3
	}
	for i := range n {
		var s float64
		for j := range n {
			s += a.m.At(i, j) * a.m.At(i, j)
		}
		bound *= math.Sqrt(s)
	}
	if bound == 0 || math.IsNaN(det) || math.Abs(det)/bound <= SingularTolerance {
		return Matrix4{}, fmt.Errorf("transform: determinant %g: %w", det, ErrSingularMatrix)
	}
	return Matrix4{m: a.m.Inv()}, nil
}

// IsIdentity reports whether every element of a is within tol of the
// identity.
func (a Matrix4) IsIdentity(tol float64) bool {
	id := mgl64.Ident4()
	for i := range a.m {
		if math.Abs(a.m[i]-id[i]) > tol {
			return false
		}
	}
	return true
}

// ApproxEqual reports whether a and b agree element-wise within tol.
func (a Matrix4) ApproxEqual(b Matrix4, tol float64) bool {
	for i := range a.m {
		if math.Abs(a.m[i]-b.m[i]) > tol {
			return false
		}
	}
	return true
}

// Translation returns the translation column.
func (a Matrix4) Translation() r3.Vec {
	return r3.Vec{X: a.m.At(0, 3), Y: a.m.At(1, 3), Z: a.m.At(2, 3)}
}

// Linear3 returns the upper-left 3x3 block.
func (a Matrix4) Linear3() mgl64.Mat3 { return a.m.Mat3() }

// TransformPoint maps p as a homogeneous point, dividing by w when the
// matrix is projective.
func (a Matrix4) TransformPoint(p r3.Vec) r3.Vec {
	v := a.m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	if w := v[3]; w != 1 && w != 0 {
		return r3.Vec{X: v[0] / w, Y: v[1] / w, Z: v[2] / w}
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// normalMatrix returns the cofactor matrix of the linear block, signed so it
// points the same way as the inverse-transpose. Normals are renormalized
// after mapping, so it serves for any block, including flattening ones.
func (a Matrix4) normalMatrix() mgl64.Mat3 {
	return cofactor(a.m.Mat3())
}

// cofactor returns det(l)·l⁻ᵀ with the sign of det(l) removed. Its columns
// are the pairwise cross products of the columns of l.
func cofactor(l mgl64.Mat3) mgl64.Mat3 {
	c0, c1, c2 := fromMgl(l.Col(0)), fromMgl(l.Col(1)), fromMgl(l.Col(2))
	m := mgl64.Mat3FromCols(toMgl(r3.Cross(c1, c2)), toMgl(r3.Cross(c2, c0)), toMgl(r3.Cross(c0, c1)))
	if l.Det() < 0 {
		return m.Mul(-1)
	}
	return m
}

// nearSingular3 reports whether l is singular relative to the Hadamard bound
// of its columns.
func nearSingular3(l mgl64.Mat3) bool {
	bound := 1.0
	for j := range 3 {
		bound *= l.Col(j).Len()
	}
	det := l.Det()
	return bound == 0 || math.IsNaN(det) || math.Abs(det)/bound <= SingularTolerance
}

// TransformNormal maps a surface normal through a and renormalizes it. A
// normal lying in a direction the block collapses maps to the zero vector.
func (a Matrix4) TransformNormal(n r3.Vec) r3.Vec {
	return mapNormal(a.normalMatrix(), n)
}

func mapNormal(nm mgl64.Mat3, n r3.Vec) r3.Vec {
	out := fromMgl(nm.Mul3x1(toMgl(n)))
	if l := r3.Norm(out); l > 0 {
		return r3.Scale(1/l, out)
	}
	return out
}

func (a Matrix4) String() string {
	var b strings.Builder
	for i := range 4 {
		b.WriteString("[")
		for j := range 4 {
			if j > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%10.5g", a.m.At(i, j))
		}
		b.WriteString("]\n")
	}
	return b.String()
}

func toMgl(v r3.Vec) mgl64.Vec3   { return mgl64.Vec3{v.X, v.Y, v.Z} }
func fromMgl(v mgl64.Vec3) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
