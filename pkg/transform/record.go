package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kind distinguishes the two record layouts.
type Kind string

const (
	// KindLinear records carry a 4x4 matrix.
	KindLinear Kind = "linear"
	// KindThinPlate records carry landmarks, a mode and a sigma.
	KindThinPlate Kind = "thin-plate"
)

// Record is the persisted form of a transform. A linear record carries
// Matrix and NumConcatenated; a thin-plate record carries Mode, Sigma and the
// landmark lists.
type Record struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`

	Matrix          [][]float64 `json:"matrix,omitempty"`
	NumConcatenated *int        `json:"n_concatenated_transforms,omitempty"`

	Mode         string      `json:"mode,omitempty"`
	Sigma        *float64    `json:"sigma,omitempty"`
	SourcePoints [][]float64 `json:"source_points,omitempty"`
	TargetPoints [][]float64 `json:"target_points,omitempty"`
	Inverted     bool        `json:"inverted,omitempty"`
}

// Kind reports which layout r uses, or "" when it is neither.
func (r Record) Kind() Kind {
	switch {
	case r.Matrix != nil && r.Mode == "":
		return KindLinear
	case r.Matrix == nil && r.Mode != "":
		return KindThinPlate
	}
	return ""
}

// Record returns the persisted form of t.
func (t *Linear) Record() Record {
	rows := t.current.Rows()
	m := make([][]float64, 4)
	for i := range rows {
		m[i] = rows[i][:]
	}
	n := len(t.history)
	return Record{Name: t.name, Comment: t.comment, Matrix: m, NumConcatenated: &n}
}

// Record returns the persisted form of t.
func (t *ThinPlate) Record() Record {
	sigma := t.sigma
	return Record{
		Name:         t.name,
		Comment:      t.comment,
		Mode:         t.basis.String(),
		Sigma:        &sigma,
		SourcePoints: pointRows(t.source),
		TargetPoints: pointRows(t.target),
		Inverted:     t.inverted,
	}
}

func pointRows(pts []r3.Vec) [][]float64 {
	out := make([][]float64, len(pts))
	for i, p := range pts {
		out[i] = []float64{p.X, p.Y, p.Z}
	}
	return out
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("transform: %s: %w", fmt.Sprintf(format, args...), ErrMalformedRecord)
}

// Linear builds the affine transform described by r. The history is not
// persisted, so the result starts with an empty one: the stored
// n_concatenated_transforms is checked and then dropped, and writing the
// result back reports 0.
func (r Record) Linear() (*Linear, error) {
	if r.Kind() != KindLinear {
		return nil, malformed("record is not a linear transform")
	}
	if len(r.Matrix) != 4 {
		return nil, malformed("matrix has %d rows, want 4", len(r.Matrix))
	}
	var rows [4][4]float64
	for i, row := range r.Matrix {
		if len(row) != 4 {
			return nil, malformed("matrix row %d has %d columns, want 4", i, len(row))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, malformed("matrix element (%d, %d) is not finite", i, j)
			}
			rows[i][j] = v
		}
	}
	if r.NumConcatenated != nil && *r.NumConcatenated < 0 {
		return nil, malformed("negative concatenation count %d", *r.NumConcatenated)
	}
	t := NewLinearFromMatrix(NewMatrix4(rows))
	t.name, t.comment = r.Name, r.Comment
	return t, nil
}

// ThinPlate builds the spline warp described by r.
func (r Record) ThinPlate() (*ThinPlate, error) {
	if r.Kind() != KindThinPlate {
		return nil, malformed("record is not a thin-plate transform")
	}
	b, err := ParseBasis(r.Mode)
	if err != nil {
		return nil, malformed("%v", err)
	}
	if r.Sigma == nil {
		return nil, malformed("missing sigma")
	}
	src, err := parsePoints("source_points", r.SourcePoints)
	if err != nil {
		return nil, err
	}
	dst, err := parsePoints("target_points", r.TargetPoints)
	if err != nil {
		return nil, err
	}
	t := NewThinPlate(b)
	if err := t.SetSigma(*r.Sigma); err != nil {
		return nil, malformed("%v", err)
	}
	if err := t.SetPoints(src, dst); err != nil {
		return nil, malformed("%v", err)
	}
	t.name, t.comment, t.inverted = r.Name, r.Comment, r.Inverted
	return t, nil
}

func parsePoints(field string, rows [][]float64) ([]r3.Vec, error) {
	pts := make([]r3.Vec, len(rows))
	for i, row := range rows {
		if len(row) != 3 {
			return nil, malformed("%s[%d] has %d coordinates, want 3", field, i, len(row))
		}
		p := r3.Vec{X: row[0], Y: row[1], Z: row[2]}
		if !finite(p) {
			return nil, malformed("%s[%d] is not finite", field, i)
		}
		pts[i] = p
	}
	return pts, nil
}

// Transformer builds the transform r describes.
func (r Record) Transformer() (Transformer, error) {
	switch r.Kind() {
	case KindLinear:
		return r.Linear()
	case KindThinPlate:
		return r.ThinPlate()
	}
	return nil, malformed("record has neither a matrix nor a spline mode")
}

// EncodeRecord writes rec as indented JSON.
func EncodeRecord(w io.Writer, rec Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("transform: encode record: %w", err)
	}
	return nil
}

// DecodeRecord reads one JSON record and validates its layout.
func DecodeRecord(rd io.Reader) (Record, error) {
	var rec Record
	dec := json.NewDecoder(rd)
	if err := dec.Decode(&rec); err != nil {
		return Record{}, malformed("decode: %v", err)
	}
	if rec.Kind() == "" {
		return Record{}, malformed("record has neither a matrix nor a spline mode")
	}
	return rec, nil
}

// WriteRecord writes rec to path. The file is replaced atomically.
func WriteRecord(path string, rec Record) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("transform: write %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	if err = EncodeRecord(f, rec); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("transform: write %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("transform: write %s: %w", path, err)
	}
	return nil
}

// ReadRecord reads and validates the record stored at path.
func ReadRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("transform: read %s: %w", path, err)
	}
	defer f.Close()
	rec, err := DecodeRecord(f)
	if err != nil {
		return Record{}, fmt.Errorf("transform: read %s: %w", path, err)
	}
	return rec, nil
}

// Read loads whichever transform kind is stored at path.
func Read(path string) (Transformer, error) {
	rec, err := ReadRecord(path)
	if err != nil {
		return nil, err
	}
	return rec.Transformer()
}

// ReadLinear loads an affine transform from path. As with Record.Linear, the
// stored concatenation count is not restored.
func ReadLinear(path string) (*Linear, error) {
	rec, err := ReadRecord(path)
	if err != nil {
		return nil, err
	}
	return rec.Linear()
}

// ReadThinPlate loads a spline warp from path.
func ReadThinPlate(path string) (*ThinPlate, error) {
	rec, err := ReadRecord(path)
	if err != nil {
		return nil, err
	}
	return rec.ThinPlate()
}

// Write saves t to path.
func (t *Linear) Write(path string) error { return WriteRecord(path, t.Record()) }

// Write saves t to path.
func (t *ThinPlate) Write(path string) error { return WriteRecord(path, t.Record()) }

// IsMalformed reports whether err came from an invalid record.
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedRecord) }
