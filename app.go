package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/config"
	"github.com/chazu/xform/pkg/engine"
	"github.com/chazu/xform/pkg/kernel"
	"github.com/chazu/xform/pkg/kernel/sdfx"
	"github.com/chazu/xform/pkg/store"
	"github.com/chazu/xform/pkg/transform"
)

// App wires the script engine, the mesh kernel and the record catalog
// together behind the CLI commands.
type App struct {
	cfg    config.Config
	engine *engine.Engine
	kernel kernel.Kernel
}

// EvalErrorData is a JSON-serializable eval error.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the outcome of evaluating a script.
type EvalResult struct {
	Transform transform.Transformer `json:"-"`
	Record    *transform.Record     `json:"record,omitempty"`
	Errors    []EvalErrorData       `json:"errors"`
}

// NewApp creates an App from cfg and pushes its tolerances into the
// transform package.
func NewApp(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defaults, err := cfg.EngineDefaults()
	if err != nil {
		return nil, err
	}
	cfg.Apply()

	eng := engine.NewEngine()
	eng.SetTimeout(cfg.Timeout())
	eng.SetDefaults(defaults)
	return &App{cfg: cfg, engine: eng, kernel: sdfx.New()}, nil
}

// Evaluate runs a transform script.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{Errors: []EvalErrorData{}}

	t, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		log.Printf("Evaluate fatal error: %v", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}

	rec := t.Record()
	result.Transform = t
	result.Record = &rec
	return result
}

// EvaluateFile runs the script stored at path.
func (a *App) EvaluateFile(path string) (transform.Transformer, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res := a.Evaluate(string(src))
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = engine.EvalError{Line: e.Line, Col: e.Col, Message: e.Message}.Error()
		}
		return nil, fmt.Errorf("%s: %s", path, strings.Join(msgs, "; "))
	}
	return res.Transform, nil
}

// Shape names a primitive the kernel can mesh.
type Shape string

// The primitives. A box has its minimum corner at the origin; a sphere or a
// cylinder (along z, radius half its size) is centered on it.
const (
	ShapeBox      Shape = "box"
	ShapeSphere   Shape = "sphere"
	ShapeCylinder Shape = "cylinder"
)

// Op combines a part's primitive with a second one.
type Op string

// The boolean operations.
const (
	OpUnion     Op = "union"
	OpSubtract  Op = "subtract"
	OpIntersect Op = "intersect"
)

// Part describes a solid to mesh: a primitive, optionally combined with a
// second primitive centered on it, then rotated about the origin and moved.
type Part struct {
	Shape Shape
	Size  float64

	With     Shape
	WithSize float64 // 0 uses Size
	Op       Op

	Rotate r3.Vec // degrees about x, y then z
	At     r3.Vec
}

func (a *App) primitive(shape Shape, size float64) (kernel.Solid, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mesh: size must be positive, got %g", size)
	}
	switch shape {
	case ShapeBox:
		return a.kernel.Box(r3.Vec{X: size, Y: size, Z: size}), nil
	case ShapeSphere:
		return a.kernel.Sphere(size / 2), nil
	case ShapeCylinder:
		return a.kernel.Cylinder(size, size/2), nil
	}
	return nil, fmt.Errorf("mesh: unknown shape %q", shape)
}

func center(s kernel.Solid) r3.Vec {
	lo, hi := s.BoundingBox()
	return r3.Scale(0.5, r3.Add(lo, hi))
}

// Solid builds the kernel solid for p.
func (a *App) Solid(p Part) (kernel.Solid, error) {
	s, err := a.primitive(p.Shape, p.Size)
	if err != nil {
		return nil, err
	}
	if p.With != "" {
		size := p.WithSize
		if size == 0 {
			size = p.Size
		}
		w, err := a.primitive(p.With, size)
		if err != nil {
			return nil, err
		}
		w = a.kernel.Translate(w, r3.Sub(center(s), center(w)))
		switch p.Op {
		case OpUnion, "":
			s = a.kernel.Union(s, w)
		case OpSubtract:
			s = a.kernel.Difference(s, w)
		case OpIntersect:
			s = a.kernel.Intersection(s, w)
		default:
			return nil, fmt.Errorf("mesh: unknown operation %q", p.Op)
		}
	}
	if p.Rotate != (r3.Vec{}) {
		s = a.kernel.Rotate(s, p.Rotate)
	}
	if p.At != (r3.Vec{}) {
		s = a.kernel.Translate(s, p.At)
	}
	return s, nil
}

// BuildPart meshes p. cells <= 0 uses the configured resolution.
func (a *App) BuildPart(p Part, cells int) (*kernel.Mesh, error) {
	s, err := a.Solid(p)
	if err != nil {
		return nil, err
	}
	if cells <= 0 {
		cells = a.cfg.Mesh.Cells
	}
	m, err := a.kernel.ToMesh(s, cells)
	if err != nil {
		return nil, err
	}
	m.Name = string(p.Shape)
	if p.With != "" {
		m.Name += "-" + string(p.With)
	}
	return m, nil
}

// BuildMesh meshes a single primitive of the given size.
func (a *App) BuildMesh(shape Shape, size float64, cells int) (*kernel.Mesh, error) {
	return a.BuildPart(Part{Shape: shape, Size: size}, cells)
}

// ApplyTransform rewrites m with t. A partial inversion failure leaves the
// mesh transformed and is logged; every other error is returned.
func (a *App) ApplyTransform(t transform.Transformer, m *kernel.Mesh) error {
	err := t.Apply(m)
	var inv *transform.InversionError
	if errors.As(err, &inv) {
		log.Printf("apply: %v", err)
		return nil
	}
	return err
}

// Invert returns an inverted copy of t.
func (a *App) Invert(t transform.Transformer) (transform.Transformer, error) {
	switch v := t.(type) {
	case *transform.Linear:
		return v.ComputeInverse()
	case *transform.ThinPlate:
		return v.ComputeInverse()
	}
	return nil, fmt.Errorf("invert: unsupported transform %T", t)
}

// OpenStore opens the configured record catalog.
func (a *App) OpenStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Store.Path)
}

// ReadMesh loads a mesh from a JSON file.
func ReadMesh(path string) (*kernel.Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m kernel.Mesh
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("read mesh %s: %w", path, err)
	}
	if len(m.Vertices)%3 != 0 || (len(m.Normals) != 0 && len(m.Normals) != len(m.Vertices)) {
		return nil, fmt.Errorf("read mesh %s: vertex and normal arrays do not match", path)
	}
	return &m, nil
}

// WriteMesh saves m as JSON.
func WriteMesh(path string, m *kernel.Mesh) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
