package transform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSingularMatrix is returned when a matrix has no usable inverse.
	ErrSingularMatrix = errors.New("singular matrix")

	// ErrDegenerateAxis is returned for a zero-length rotation axis.
	ErrDegenerateAxis = errors.New("degenerate rotation axis")

	// ErrMismatchedLandmarks is returned when source and target landmark
	// counts differ.
	ErrMismatchedLandmarks = errors.New("mismatched landmark count")

	// ErrInsufficientLandmarks is returned when there are too few landmarks,
	// or too few independent ones, to determine a spline.
	ErrInsufficientLandmarks = errors.New("insufficient landmarks")

	// ErrInversionDidNotConverge is returned when the numerical inverse of a
	// spline fails to converge for a point.
	ErrInversionDidNotConverge = errors.New("inversion did not converge")

	// ErrMalformedRecord is returned when a persisted record cannot be decoded
	// into a valid transform.
	ErrMalformedRecord = errors.New("malformed transform record")

	// ErrIndexOutOfRange is returned for a bad history or stack index.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// InversionError reports the points of a dataset for which an inverted
// spline failed to converge. Those points are left unchanged.
type InversionError struct {
	Indices []int // dataset point indices, ascending
	Total   int   // number of points in the dataset
}

func (e *InversionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d points did not converge", len(e.Indices), e.Total)
	if len(e.Indices) > 0 {
		b.WriteString(" (first: ")
		n := min(len(e.Indices), 5)
		for i, idx := range e.Indices[:n] {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d", idx)
		}
		if n < len(e.Indices) {
			b.WriteString(", ...")
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *InversionError) Unwrap() error { return ErrInversionDidNotConverge }
