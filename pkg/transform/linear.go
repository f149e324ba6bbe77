package transform

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// Order selects how a matrix is combined with the accumulated transform.
type Order int

const (
	// PostMultiply applies the new matrix after the accumulated transform.
	PostMultiply Order = iota
	// PreMultiply applies the new matrix before the accumulated transform.
	PreMultiply
)

func (o Order) String() string {
	if o == PreMultiply {
		return "pre"
	}
	return "post"
}

// Concatenation is one entry of a Linear history.
type Concatenation struct {
	Matrix Matrix4
	Order  Order
}

// Linear is an affine transform built incrementally. Builder methods
// post-multiply onto the current matrix and return the receiver so calls
// chain. A builder method that fails leaves the matrix untouched, stores the
// error for Err, and turns every later builder call into a no-op until
// Reset.
type Linear struct {
	current  Matrix4
	history  []Concatenation
	saved    []Matrix4
	inverted bool
	name     string
	comment  string
	err      error
}

// NewLinear returns an identity transform.
func NewLinear() *Linear {
	return &Linear{current: Identity()}
}

// NewLinearFromMatrix returns a transform whose matrix is m.
func NewLinearFromMatrix(m Matrix4) *Linear {
	return &Linear{current: m}
}

// NewLinearFromRows returns a transform from a 4x4 matrix, or from a 3x3
// linear block with no translation.
func NewLinearFromRows(rows [][]float64) (*Linear, error) {
	n := len(rows)
	if n != 3 && n != 4 {
		return nil, fmt.Errorf("transform: matrix has %d rows, want 3 or 4", n)
	}
	m := Identity()
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("transform: row %d has %d columns, want %d", i, len(row), n)
		}
		for j, v := range row {
			m = m.Set(i, j, v)
		}
	}
	return NewLinearFromMatrix(m), nil
}

// Err returns the error recorded by a failed builder call.
func (t *Linear) Err() error { return t.err }

func (t *Linear) fail(err error) *Linear {
	t.err = err
	return t
}

// combine folds m into the current matrix.
func (t *Linear) combine(m Matrix4, o Order) {
	if o == PreMultiply {
		t.current = Mul(t.current, m)
		return
	}
	t.current = Mul(m, t.current)
}

// Translate moves by v.
func (t *Linear) Translate(v r3.Vec) *Linear {
	if t.err != nil {
		return t
	}
	t.combine(TranslationMatrix(v), PostMultiply)
	return t
}

// Scale scales by s along each axis about the given pivot.
func (t *Linear) Scale(s r3.Vec, about Pivot) *Linear {
	if t.err != nil {
		return t
	}
	m := ScaleMatrix(s)
	if p, ok := about.resolve(t.current); ok {
		m = sandwich(m, p)
	}
	t.combine(m, PostMultiply)
	return t
}

// ScaleUniform scales by f along every axis about the given pivot.
func (t *Linear) ScaleUniform(f float64, about Pivot) *Linear {
	return t.Scale(r3.Vec{X: f, Y: f, Z: f}, about)
}

// Rotate rotates by angle about axis, where the axis passes through point.
// The rotation happens about the frame origin and the result is then shifted
// so the current position ends up where a rotation about point would move
// it.
func (t *Linear) Rotate(angle Angle, axis, point r3.Vec) *Linear {
	if t.err != nil {
		return t
	}
	r, err := RotationMatrix(axis, angle)
	if err != nil {
		return t.fail(err)
	}
	pos := t.current.Translation()
	want := r3.Add(r.TransformPoint(r3.Sub(pos, point)), point)
	t.combine(r, PostMultiply)
	t.combine(TranslationMatrix(r3.Sub(want, t.current.Translation())), PostMultiply)
	return t
}

// RotateAxis rotates by angle about a coordinate axis through the pivot.
func (t *Linear) RotateAxis(axis Axis, angle Angle, around Pivot) *Linear {
	if t.err != nil {
		return t
	}
	m := axis.rotation(angle)
	if p, ok := around.resolve(t.current); ok {
		m = sandwich(m, p)
	}
	t.combine(m, PostMultiply)
	return t
}

// RotateX rotates about the x axis through the pivot.
func (t *Linear) RotateX(angle Angle, around Pivot) *Linear { return t.RotateAxis(AxisX, angle, around) }

// RotateY rotates about the y axis through the pivot.
func (t *Linear) RotateY(angle Angle, around Pivot) *Linear { return t.RotateAxis(AxisY, angle, around) }

// RotateZ rotates about the z axis through the pivot.
func (t *Linear) RotateZ(angle Angle, around Pivot) *Linear { return t.RotateAxis(AxisZ, angle, around) }

// Reorient rotates so that initAxis is carried onto newAxis. See
// SolveReorient for the steps taken.
func (t *Linear) Reorient(initAxis, newAxis r3.Vec, opts ReorientOptions) *Linear {
	if t.err != nil {
		return t
	}
	plan, err := SolveReorient(t.current, initAxis, newAxis, opts)
	if err != nil {
		return t.fail(err)
	}
	if len(plan.Steps) == 0 {
		return t
	}
	m, err := plan.Matrix()
	if err != nil {
		return t.fail(err)
	}
	t.combine(m, PostMultiply)
	return t
}

// SetPosition translates so that the current position becomes p.
func (t *Linear) SetPosition(p r3.Vec) *Linear {
	return t.Translate(r3.Sub(p, t.current.Translation()))
}

// Concatenate combines other's matrix with the receiver in the given order
// and appends it to the history.
func (t *Linear) Concatenate(other *Linear, o Order) *Linear {
	if t.err != nil {
		return t
	}
	if other.err != nil {
		return t.fail(fmt.Errorf("transform: concatenate: %w", other.err))
	}
	t.history = append(t.history, Concatenation{Matrix: other.current, Order: o})
	t.combine(other.current, o)
	return t
}

// Push saves the current matrix on the stack.
func (t *Linear) Push() *Linear {
	if t.err != nil {
		return t
	}
	t.saved = append(t.saved, t.current)
	return t
}

// Pop restores the most recently pushed matrix.
func (t *Linear) Pop() *Linear {
	if t.err != nil {
		return t
	}
	n := len(t.saved)
	if n == 0 {
		return t.fail(fmt.Errorf("transform: pop on empty stack: %w", ErrIndexOutOfRange))
	}
	t.current = t.saved[n-1]
	t.saved = t.saved[:n-1]
	return t
}

// Depth returns the number of pushed matrices.
func (t *Linear) Depth() int { return len(t.saved) }

// Reset sets the matrix to identity and clears a recorded error. The
// history is kept.
func (t *Linear) Reset() *Linear {
	t.current = Identity()
	t.err = nil
	return t
}

// Invert replaces the matrix with its inverse. The history is kept.
func (t *Linear) Invert() error {
	if t.err != nil {
		return t.err
	}
	inv, err := t.current.Inverse()
	if err != nil {
		return fmt.Errorf("transform: invert: %w", err)
	}
	t.current = inv
	t.inverted = true
	return nil
}

// Inverted reports whether Invert has been called.
func (t *Linear) Inverted() bool { return t.inverted }

// ComputeInverse returns an inverted clone and leaves t unchanged.
func (t *Linear) ComputeInverse() (*Linear, error) {
	c := t.Clone()
	if err := c.Invert(); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a deep copy of t.
func (t *Linear) Clone() *Linear {
	c := *t
	c.history = append([]Concatenation(nil), t.history...)
	c.saved = append([]Matrix4(nil), t.saved...)
	return &c
}

// NumConcatenated returns the length of the history.
func (t *Linear) NumConcatenated() int { return len(t.history) }

// History returns a copy of the concatenation history, oldest first.
func (t *Linear) History() []Concatenation {
	return append([]Concatenation(nil), t.history...)
}

// Concatenated returns the i-th concatenated matrix as a standalone
// transform.
func (t *Linear) Concatenated(i int) (*Linear, error) {
	if i < 0 || i >= len(t.history) {
		return nil, fmt.Errorf("transform: concatenation %d of %d: %w", i, len(t.history), ErrIndexOutOfRange)
	}
	return NewLinearFromMatrix(t.history[i].Matrix), nil
}

// Matrix returns the current matrix.
func (t *Linear) Matrix() Matrix4 { return t.current }

// SetMatrix replaces the current matrix.
func (t *Linear) SetMatrix(m Matrix4) *Linear {
	t.current = m
	return t
}

// Matrix3x3 returns the linear block, row-major.
func (t *Linear) Matrix3x3() [3][3]float64 {
	var out [3][3]float64
	for i := range 3 {
		for j := range 3 {
			out[i][j] = t.current.At(i, j)
		}
	}
	return out
}

// Position returns the translation of the current matrix.
func (t *Linear) Position() r3.Vec { return t.current.Translation() }

// Orientation returns the rotation as angles about x, y and z in degrees.
func (t *Linear) Orientation() r3.Vec { return eulerDegrees(t.current) }

// ScaleFactors returns the length of each column of the linear block. They
// are the per-axis scales whenever scaling was applied before rotation.
func (t *Linear) ScaleFactors() r3.Vec {
	x, y, z := mgl64.Extract3DScale(t.current.Mgl())
	return r3.Vec{X: x, Y: y, Z: z}
}

// IsIdentity reports whether the matrix is the identity within
// IdentityTolerance.
func (t *Linear) IsIdentity() bool { return t.current.IsIdentity(IdentityTolerance) }

// Name returns the transform's name.
func (t *Linear) Name() string { return t.name }

// SetName sets the transform's name.
func (t *Linear) SetName(name string) *Linear {
	t.name = name
	return t
}

// Comment returns the free-form comment.
func (t *Linear) Comment() string { return t.comment }

// SetComment sets the free-form comment.
func (t *Linear) SetComment(c string) *Linear {
	t.comment = c
	return t
}

// ApplyPoint maps p through the matrix.
func (t *Linear) ApplyPoint(p r3.Vec) (r3.Vec, error) {
	if t.err != nil {
		return r3.Vec{}, t.err
	}
	return t.current.TransformPoint(p), nil
}

// Apply rewrites the geometry of ds in place. The geometry pass is skipped
// when the matrix is the identity.
func (t *Linear) Apply(ds Dataset) error {
	if t.err != nil {
		return t.err
	}
	if t.IsIdentity() {
		recordProvenance(ds, t)
		return nil
	}
	g := ds.CopyGeometry()
	for i, p := range g.Points {
		g.Points[i] = t.current.TransformPoint(p)
	}
	if len(g.Normals) > 0 {
		nm := t.current.normalMatrix()
		for i, n := range g.Normals {
			g.Normals[i] = mapNormal(nm, n)
		}
	}
	ds.ReplaceGeometry(g)
	ds.InvalidateSpatialIndexes()
	recordProvenance(ds, t)
	return nil
}

func (t *Linear) String() string {
	s := fmt.Sprintf("Linear %q (%d concatenated", t.name, len(t.history))
	if t.inverted {
		s += ", inverted"
	}
	return s + ")\n" + t.current.String()
}
