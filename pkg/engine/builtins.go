package engine

import (
	"errors"
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/transform"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms xform Lisp source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: rotate-x -> rotate_x
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			if isLetter(b[i+1]) || isDigit(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				result = append(result, '"')
				result = append(result, kwPrefix...)
				result = append(result, b[i+1:j]...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Only when the hyphen sits between identifier characters (not a
		// minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isKWChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpVec3 wraps an r3.Vec.
type sexpVec3 struct {
	vec r3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpTransform wraps a snapshot of an affine transform so it can be
// concatenated later in the script.
type sexpTransform struct {
	t *transform.Linear
}

func (s *sexpTransform) SexpString(ps *zygo.PrintState) string {
	p := s.t.Position()
	return fmt.Sprintf("(transform :position (vec3 %g %g %g))", p.X, p.Y, p.Z)
}
func (s *sexpTransform) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toBool accepts true/false, or a bare trailing keyword as true.
func toBool(s zygo.Sexp) (bool, error) {
	switch v := s.(type) {
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return true, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_z) and plain strings ("z").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toVec3 extracts an r3.Vec from a sexpVec3.
func toVec3(s zygo.Sexp) (r3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return r3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// toPivot converts :origin, :position or a vec3 to a transform.Pivot.
func toPivot(s zygo.Sexp) (transform.Pivot, error) {
	if v, ok := s.(*sexpVec3); ok {
		return transform.PivotAt(v.vec), nil
	}
	name, err := toKeywordString(s)
	if err != nil {
		return transform.LocalOrigin, fmt.Errorf("expected :origin, :position or vec3: %w", err)
	}
	switch name {
	case "origin":
		return transform.LocalOrigin, nil
	case "position":
		return transform.CurrentPosition, nil
	}
	return transform.LocalOrigin, fmt.Errorf("invalid pivot %q, expected origin or position", name)
}

// toOrder converts :post or :pre to a transform.Order.
func toOrder(s zygo.Sexp) (transform.Order, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return transform.PostMultiply, fmt.Errorf("expected :post or :pre: %w", err)
	}
	switch name {
	case "post":
		return transform.PostMultiply, nil
	case "pre":
		return transform.PreMultiply, nil
	}
	return transform.PostMultiply, fmt.Errorf("invalid order %q, expected post or pre", name)
}

// toVec3List converts a list or array of vec3 values.
func toVec3List(s zygo.Sexp) ([]r3.Vec, error) {
	items, err := sexpListToSlice(s)
	if err != nil {
		return nil, err
	}
	out := make([]r3.Vec, 0, len(items))
	for i, item := range items {
		v, err := toVec3(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// ---------------------------------------------------------------------------
// Evaluation state
// ---------------------------------------------------------------------------

// errWarpStarted is returned when an affine builder runs after landmarks.
var errWarpStarted = errors.New("affine builders cannot follow landmarks")

// session is the transform a script is building. Affine builders act on
// linear; landmarks replaces the result with a spline warp.
type session struct {
	linear   *transform.Linear
	warp     *transform.ThinPlate
	defaults Defaults
}

func newSession(d Defaults) *session {
	return &session{linear: transform.NewLinear(), defaults: d}
}

// result returns the transform the script produced.
func (s *session) result() transform.Transformer {
	if s.warp != nil {
		return s.warp
	}
	return s.linear
}

// affine returns the linear transform, or an error once a warp exists.
func (s *session) affine(op string) (*transform.Linear, error) {
	if s.warp != nil {
		return nil, fmt.Errorf("%s: %w", op, errWarpStarted)
	}
	return s.linear, nil
}

// check surfaces the sticky builder error after an affine builder ran.
func (s *session) check(op string) (zygo.Sexp, error) {
	if err := s.linear.Err(); err != nil {
		return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
	}
	return zygo.SexpNull, nil
}

// vecArg reads a single vec3 positional argument.
func vecArg(op string, pa kwArgs) (r3.Vec, error) {
	if len(pa.positional) != 1 {
		return r3.Vec{}, fmt.Errorf("%s requires exactly 1 vec3 argument, got %d", op, len(pa.positional))
	}
	v, err := toVec3(pa.positional[0])
	if err != nil {
		return r3.Vec{}, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// pivotKW reads an optional pivot keyword, defaulting to the local origin.
func pivotKW(op, key string, pa kwArgs) (transform.Pivot, error) {
	v, ok := pa.kw[key]
	if !ok {
		return transform.LocalOrigin, nil
	}
	p, err := toPivot(v)
	if err != nil {
		return transform.LocalOrigin, fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs all xform DSL builtins into a zygomys environment.
// The builtins operate on the provided session, building its transform during
// evaluation. Angles are in degrees.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, s *session) {

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}

		x, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: x: %w", err)
		}
		y, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: y: %w", err)
		}
		z, err := toFloat64(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: z: %w", err)
		}

		return &sexpVec3{vec: r3.Vec{X: x, Y: y, Z: z}}, nil
	})

	// -----------------------------------------------------------------------
	// (translate (vec3 1 0 0))
	// -----------------------------------------------------------------------
	env.AddFunction("translate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("translate")
		if err != nil {
			return zygo.SexpNull, err
		}
		v, err := vecArg("translate", parseArgs(args))
		if err != nil {
			return zygo.SexpNull, err
		}
		t.Translate(v)
		return s.check("translate")
	})

	// -----------------------------------------------------------------------
	// (set-position (vec3 0 0 5))
	// -----------------------------------------------------------------------
	env.AddFunction("set_position", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("set-position")
		if err != nil {
			return zygo.SexpNull, err
		}
		v, err := vecArg("set-position", parseArgs(args))
		if err != nil {
			return zygo.SexpNull, err
		}
		t.SetPosition(v)
		return s.check("set-position")
	})

	// -----------------------------------------------------------------------
	// (scale (vec3 2 1 1) :about :position)
	// -----------------------------------------------------------------------
	env.AddFunction("scale", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("scale")
		if err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		v, err := vecArg("scale", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		about, err := pivotKW("scale", "about", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		t.Scale(v, about)
		return s.check("scale")
	})

	// -----------------------------------------------------------------------
	// (scale-uniform 2 :about (vec3 1 1 1))
	// -----------------------------------------------------------------------
	env.AddFunction("scale_uniform", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("scale-uniform")
		if err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("scale-uniform requires a factor")
		}
		f, err := toFloat64(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scale-uniform: %w", err)
		}
		about, err := pivotKW("scale-uniform", "about", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		t.ScaleUniform(f, about)
		return s.check("scale-uniform")
	})

	// -----------------------------------------------------------------------
	// (rotate 30 (vec3 0 0 1) :point (vec3 1 0 0))
	// -----------------------------------------------------------------------
	env.AddFunction("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("rotate")
		if err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("rotate requires an angle and an axis")
		}
		deg, err := toFloat64(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: angle: %w", err)
		}
		axis, err := toVec3(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: axis: %w", err)
		}
		var point r3.Vec
		if v, ok := pa.kw["point"]; ok {
			if point, err = toVec3(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("rotate: point: %w", err)
			}
		}
		t.Rotate(transform.Deg(deg), axis, point)
		return s.check("rotate")
	})

	// -----------------------------------------------------------------------
	// (rotate-x 90 :around :position), rotate-y, rotate-z
	// -----------------------------------------------------------------------
	for _, ax := range []transform.Axis{transform.AxisX, transform.AxisY, transform.AxisZ} {
		op := "rotate-" + ax.String()
		env.AddFunction("rotate_"+ax.String(), func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			t, err := s.affine(op)
			if err != nil {
				return zygo.SexpNull, err
			}
			pa := parseArgs(args)
			if len(pa.positional) != 1 {
				return zygo.SexpNull, fmt.Errorf("%s requires an angle", op)
			}
			deg, err := toFloat64(pa.positional[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: angle: %w", op, err)
			}
			around, err := pivotKW(op, "around", pa)
			if err != nil {
				return zygo.SexpNull, err
			}
			t.RotateAxis(ax, transform.Deg(deg), around)
			return s.check(op)
		})
	}

	// -----------------------------------------------------------------------
	// (reorient (vec3 0 0 1) (vec3 1 0 0) :around (vec3 0 0 0) :roll 15
	//           :keep-xy-plane true)
	// -----------------------------------------------------------------------
	env.AddFunction("reorient", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("reorient")
		if err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("reorient requires an initial and a new axis")
		}
		from, err := toVec3(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("reorient: initial axis: %w", err)
		}
		to, err := toVec3(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("reorient: new axis: %w", err)
		}
		var opts transform.ReorientOptions
		if v, ok := pa.kw["around"]; ok {
			if opts.Around, err = toVec3(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("reorient: around: %w", err)
			}
		}
		if v, ok := pa.kw["roll"]; ok {
			deg, err := toFloat64(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("reorient: roll: %w", err)
			}
			opts.Roll = transform.Deg(deg)
		}
		if v, ok := pa.kw["keep-xy-plane"]; ok {
			if opts.KeepXYPlane, err = toBool(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("reorient: keep-xy-plane: %w", err)
			}
		}
		t.Reorient(from, to, opts)
		return s.check("reorient")
	})

	// -----------------------------------------------------------------------
	// (push) (pop) (reset)
	// -----------------------------------------------------------------------
	env.AddFunction("push", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("push")
		if err != nil {
			return zygo.SexpNull, err
		}
		t.Push()
		return s.check("push")
	})
	env.AddFunction("pop", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("pop")
		if err != nil {
			return zygo.SexpNull, err
		}
		t.Pop()
		return s.check("pop")
	})
	env.AddFunction("reset", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("reset")
		if err != nil {
			return zygo.SexpNull, err
		}
		t.Reset()
		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (def base (snapshot)) ... (concatenate base :order :pre)
	// -----------------------------------------------------------------------
	env.AddFunction("snapshot", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("snapshot")
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTransform{t: t.Clone()}, nil
	})
	env.AddFunction("concatenate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("concatenate")
		if err != nil {
			return zygo.SexpNull, err
		}
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("concatenate requires a transform")
		}
		other, ok := pa.positional[0].(*sexpTransform)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("concatenate: expected transform, got %T (%s)",
				pa.positional[0], pa.positional[0].SexpString(nil))
		}
		order := transform.PostMultiply
		if v, ok := pa.kw["order"]; ok {
			if order, err = toOrder(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("concatenate: order: %w", err)
			}
		}
		t.Concatenate(other.t, order)
		return s.check("concatenate")
	})

	// -----------------------------------------------------------------------
	// (apply-point (vec3 1 2 3)) and (position)
	// -----------------------------------------------------------------------
	env.AddFunction("apply_point", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, err := vecArg("apply-point", parseArgs(args))
		if err != nil {
			return zygo.SexpNull, err
		}
		out, err := s.result().ApplyPoint(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("apply-point: %w", err)
		}
		return &sexpVec3{vec: out}, nil
	})
	env.AddFunction("position", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		t, err := s.affine("position")
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpVec3{vec: t.Position()}, nil
	})

	// -----------------------------------------------------------------------
	// (landmarks :source (list (vec3 ...) ...) :target (list ...)
	//            :mode :3d :sigma 1)
	// -----------------------------------------------------------------------
	env.AddFunction("landmarks", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if s.warp != nil {
			return zygo.SexpNull, fmt.Errorf("landmarks: a warp is already defined")
		}
		pa := parseArgs(args)
		src, dst := pa.kw["source"], pa.kw["target"]
		if src == nil || dst == nil {
			return zygo.SexpNull, fmt.Errorf("landmarks requires :source and :target")
		}
		source, err := toVec3List(src)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("landmarks: source: %w", err)
		}
		target, err := toVec3List(dst)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("landmarks: target: %w", err)
		}
		basis := s.defaults.Basis
		if v, ok := pa.kw["mode"]; ok {
			m, err := toKeywordString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("landmarks: mode: %w", err)
			}
			if basis, err = transform.ParseBasis(m); err != nil {
				return zygo.SexpNull, fmt.Errorf("landmarks: %w", err)
			}
		}
		sigma := s.defaults.Sigma
		if v, ok := pa.kw["sigma"]; ok {
			if sigma, err = toFloat64(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("landmarks: sigma: %w", err)
			}
		}

		w := transform.NewThinPlate(basis)
		if err := w.SetSigma(sigma); err != nil {
			return zygo.SexpNull, fmt.Errorf("landmarks: %w", err)
		}
		if err := w.SetPoints(source, target); err != nil {
			return zygo.SexpNull, fmt.Errorf("landmarks: %w", err)
		}
		if s.defaults.InverseTolerance > 0 {
			w.InverseTolerance = s.defaults.InverseTolerance
		}
		if s.defaults.MaxInverseIterations > 0 {
			w.MaxInverseIterations = s.defaults.MaxInverseIterations
		}
		w.SetName(s.linear.Name())
		w.SetComment(s.linear.Comment())
		s.warp = w
		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (invert) (set-name "pose") (set-comment "text")
	// -----------------------------------------------------------------------
	env.AddFunction("invert", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if err := s.result().Invert(); err != nil {
			return zygo.SexpNull, fmt.Errorf("invert: %w", err)
		}
		return zygo.SexpNull, nil
	})
	env.AddFunction("set_name", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("set-name requires a string")
		}
		str, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-name: %w", err)
		}
		s.linear.SetName(str)
		if s.warp != nil {
			s.warp.SetName(str)
		}
		return zygo.SexpNull, nil
	})
	env.AddFunction("set_comment", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("set-comment requires a string")
		}
		str, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-comment: %w", err)
		}
		s.linear.SetComment(str)
		if s.warp != nil {
			s.warp.SetComment(str)
		}
		return zygo.SexpNull, nil
	})
}
