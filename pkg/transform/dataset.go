package transform

import "gonum.org/v1/gonum/spatial/r3"

// Geometry is the point and normal data a transform rewrites. Normals is
// either empty or parallel to Points.
type Geometry struct {
	Points  []r3.Vec
	Normals []r3.Vec
}

// Dataset is a geometric object whose geometry can be replaced in place.
// Implementations must drop any cached spatial structures in
// InvalidateSpatialIndexes.
type Dataset interface {
	CopyGeometry() Geometry
	ReplaceGeometry(Geometry)
	InvalidateSpatialIndexes()
	Points() []r3.Vec
}

// TransformRecorder is implemented by datasets that remember the transform
// most recently applied to them. The dataset does not own the transform.
type TransformRecorder interface {
	RecordTransform(Transformer)
}

// Transformer is the contract shared by Linear and ThinPlate.
type Transformer interface {
	ApplyPoint(p r3.Vec) (r3.Vec, error)
	Apply(ds Dataset) error
	Invert() error
	Name() string
	Comment() string
	Record() Record
}

var (
	_ Transformer = (*Linear)(nil)
	_ Transformer = (*ThinPlate)(nil)
)

func recordProvenance(ds Dataset, t Transformer) {
	if r, ok := ds.(TransformRecorder); ok {
		r.RecordTransform(t)
	}
}
