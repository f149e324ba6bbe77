package transform

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// antiParallelNudge is added to the target axis when it is opposite the
// initial axis, which picks one of the infinitely many half turns.
var antiParallelNudge = r3.Vec{X: 1e-7, Y: 2e-7}

// xyPlaneFactor scales the tilt about x when re-levelling a reoriented frame.
const xyPlaneFactor = 1.4142

// ReorientOptions tune Linear.Reorient.
type ReorientOptions struct {
	// Around is the fixed point of every rotation step.
	Around r3.Vec

	// Roll is an extra rotation about the initial axis applied before the
	// alignment.
	Roll Angle

	// KeepXYPlane appends a rotation about the new axis that re-levels the
	// frame against the horizontal plane.
	KeepXYPlane bool
}

// RotationStep is a rotation about an axis through the plan's pivot.
type RotationStep struct {
	Axis  r3.Vec
	Angle Angle
}

// ReorientPlan is the ordered list of rotations carrying one axis onto
// another. An empty plan is a no-op.
type ReorientPlan struct {
	Around r3.Vec
	Steps  []RotationStep

	// Degenerate is set when the axes were anti-parallel and the target was
	// nudged to pick a rotation axis.
	Degenerate bool
}

// Matrix composes the plan into one matrix, applying the steps in order
// about the pivot.
func (p ReorientPlan) Matrix() (Matrix4, error) {
	m := Identity()
	if len(p.Steps) == 0 {
		return m, nil
	}
	for _, s := range p.Steps {
		r, err := RotationMatrix(s.Axis, s.Angle)
		if err != nil {
			return Matrix4{}, err
		}
		m = Mul(r, m)
	}
	return sandwich(m, p.Around), nil
}

// SolveReorient computes the rotations that carry initAxis onto newAxis for
// a stack whose matrix is current. The current matrix only matters when
// opts.KeepXYPlane is set.
func SolveReorient(current Matrix4, initAxis, newAxis r3.Vec, opts ReorientOptions) (ReorientPlan, error) {
	plan := ReorientPlan{Around: opts.Around}

	ni, nn := r3.Norm(initAxis), r3.Norm(newAxis)
	if ni < axisEpsilon || nn < axisEpsilon {
		return plan, fmt.Errorf("transform: reorient: %w", ErrDegenerateAxis)
	}
	initAxis = r3.Scale(1/ni, initAxis)
	newAxis = r3.Scale(1/nn, newAxis)

	if r3.Norm(r3.Sub(initAxis, newAxis)) < axisEpsilon {
		return plan, nil
	}

	var angle Angle
	if r3.Norm(r3.Add(initAxis, newAxis)) < axisEpsilon {
		log.Printf("transform: reorient: axes (%g, %g, %g) and (%g, %g, %g) are anti-parallel, nudging target",
			initAxis.X, initAxis.Y, initAxis.Z, newAxis.X, newAxis.Y, newAxis.Z)
		newAxis = r3.Add(newAxis, antiParallelNudge)
		angle = Rad(math.Pi)
		plan.Degenerate = true
	} else {
		angle = Rad(math.Acos(clamp(r3.Dot(initAxis, newAxis), -1, 1)))
	}

	cross := r3.Cross(initAxis, newAxis)
	if plan.Degenerate && r3.Norm(cross) < axisEpsilon {
		// the nudge was parallel to the axis itself
		cross = perpendicular(initAxis)
	}

	if opts.Roll != 0 {
		plan.Steps = append(plan.Steps, RotationStep{Axis: initAxis, Angle: opts.Roll})
	}
	plan.Steps = append(plan.Steps, RotationStep{Axis: cross, Angle: angle})

	if opts.KeepXYPlane {
		m := Mul(TranslationMatrix(r3.Scale(-1, opts.Around)), current)
		for _, s := range plan.Steps {
			r, err := RotationMatrix(s.Axis, s.Angle)
			if err != nil {
				return plan, err
			}
			m = Mul(r, m)
		}
		tilt := eulerDegrees(m).X
		plan.Steps = append(plan.Steps, RotationStep{Axis: newAxis, Angle: Deg(-tilt * xyPlaneFactor)})
	}
	return plan, nil
}

func perpendicular(v r3.Vec) r3.Vec {
	ref := r3.Vec{X: 1}
	if math.Abs(v.X) > 0.9 {
		ref = r3.Vec{Y: 1}
	}
	return r3.Unit(r3.Cross(v, ref))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
