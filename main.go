// Command xform builds, stores and applies 3D transforms.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/config"
	"github.com/chazu/xform/pkg/kernel"
	"github.com/chazu/xform/pkg/transform"
)

const usage = `usage: xform [-config file] <command> [flags] [args]

commands:
  eval [-o out.json] [-save name] script.xform
  apply -t transform.json [-in mesh.json | part flags] [-o out.json]
  invert [-o out.json] transform.json
  mesh [part flags] [-cells n] [-o mesh.json]
  query [-t transform.json] [-in mesh.json | part flags] [-nearest x,y,z] [-lo x,y,z -hi x,y,z]
  store put name transform.json | get name [-o out.json] | list | delete name
  init-config [path]

part flags:
  -shape box|sphere|cylinder -size 1 [-with shape -with-size s -op union|subtract|intersect]
  [-rotate x,y,z] [-at x,y,z]
`

// CLIOpts are the global flags that precede the command.
type CLIOpts struct {
	configPath string
	verbose    bool
	args       []string
}

func parseCLIOpts(args []string, stderr io.Writer) (CLIOpts, error) {
	var opt CLIOpts
	fs := flag.NewFlagSet("xform", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&opt.configPath, "config", config.FileName, "Path to the TOML configuration file")
	fs.BoolVar(&opt.verbose, "v", false, "Log file and line information")
	if err := fs.Parse(args); err != nil {
		return opt, err
	}
	opt.args = fs.Args()
	if len(opt.args) == 0 {
		fs.Usage()
		return opt, fmt.Errorf("no command given")
	}
	return opt, nil
}

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatalf("xform: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opt, err := parseCLIOpts(args, stderr)
	if err != nil {
		return err
	}
	if opt.verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cmd, rest := opt.args[0], opt.args[1:]
	if cmd == "init-config" {
		path := opt.configPath
		if len(rest) > 0 {
			path = rest[0]
		}
		if err := config.Default().Write(path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", path)
		return nil
	}

	cfg, err := config.Load(opt.configPath)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg)
	if err != nil {
		return err
	}

	switch cmd {
	case "eval":
		return app.cmdEval(ctx, rest, stdout, stderr)
	case "apply":
		return app.cmdApply(rest, stdout, stderr)
	case "invert":
		return app.cmdInvert(rest, stdout, stderr)
	case "mesh":
		return app.cmdMesh(rest, stdout, stderr)
	case "store":
		return app.cmdStore(ctx, rest, stdout, stderr)
	case "query":
		return app.cmdQuery(rest, stdout, stderr)
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// vecFlag parses "x,y,z".
type vecFlag struct {
	v   r3.Vec
	set bool
}

func (f *vecFlag) String() string {
	if f == nil || !f.set {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g", f.v.X, f.v.Y, f.v.Z)
}

func (f *vecFlag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fmt.Errorf("want x,y,z, got %q", s)
	}
	var xyz [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
		xyz[i] = v
	}
	f.v, f.set = r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, true
	return nil
}

// partFlags registers the flags describing a Part on fs. The returned
// function reads them back after parsing.
func partFlags(fs *flag.FlagSet) func() Part {
	var p Part
	var op string
	var rotate, at vecFlag
	fs.StringVar((*string)(&p.Shape), "shape", string(ShapeBox), "Primitive to mesh (box, sphere, cylinder)")
	fs.Float64Var(&p.Size, "size", 1, "Primitive size")
	fs.StringVar((*string)(&p.With), "with", "", "Second primitive centered on the first")
	fs.Float64Var(&p.WithSize, "with-size", 0, "Size of the second primitive (0 uses -size)")
	fs.StringVar(&op, "op", string(OpUnion), "How to combine -with (union, subtract, intersect)")
	fs.Var(&rotate, "rotate", "Rotation in degrees about x, y, z")
	fs.Var(&at, "at", "Translation x,y,z")
	return func() Part {
		p.Op, p.Rotate, p.At = Op(op), rotate.v, at.v
		return p
	}
}

// emit writes rec to path, or to stdout when path is empty.
func emit(rec transform.Record, path string, stdout io.Writer) error {
	if path == "" {
		return transform.EncodeRecord(stdout, rec)
	}
	return transform.WriteRecord(path, rec)
}

func (a *App) cmdEval(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("eval", stderr)
	out := fs.String("o", "", "Write the record to this file instead of stdout")
	save := fs.String("save", "", "Also store the record in the catalog under this name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("eval: expected one script")
	}
	t, err := a.EvaluateFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	if *save != "" {
		s, err := a.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Put(ctx, *save, t); err != nil {
			return err
		}
	}
	return emit(t.Record(), *out, stdout)
}

func (a *App) cmdApply(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("apply", stderr)
	tpath := fs.String("t", "", "Transform record to apply")
	in := fs.String("in", "", "Mesh JSON to transform")
	part := partFlags(fs)
	out := fs.String("o", "", "Write the transformed mesh here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tpath == "" {
		return fmt.Errorf("apply: -t is required")
	}
	t, err := transform.Read(*tpath)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	m, err := a.loadMesh(*in, part())
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := a.ApplyTransform(t, m); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if lo, hi, ok := m.Bounds(); ok {
		fmt.Fprintf(stdout, "%d vertices, bounds (%g, %g, %g) .. (%g, %g, %g)\n",
			m.VertexCount(), lo.X, lo.Y, lo.Z, hi.X, hi.Y, hi.Z)
	}
	if *out != "" {
		return WriteMesh(*out, m)
	}
	return nil
}

func (a *App) cmdInvert(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("invert", stderr)
	out := fs.String("o", "", "Write the inverted record here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("invert: expected one transform record")
	}
	t, err := transform.Read(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invert: %w", err)
	}
	inv, err := a.Invert(t)
	if err != nil {
		return fmt.Errorf("invert: %w", err)
	}
	return emit(inv.Record(), *out, stdout)
}

func (a *App) cmdMesh(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("mesh", stderr)
	part := partFlags(fs)
	cells := fs.Int("cells", 0, "Marching cubes resolution (0 uses the config)")
	out := fs.String("o", "", "Write the mesh here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := a.BuildPart(part(), *cells)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d vertices, %d triangles\n", m.Name, m.VertexCount(), m.TriangleCount())
	if *out != "" {
		return WriteMesh(*out, m)
	}
	return nil
}

func (a *App) cmdStore(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("store: expected put, get, list or delete")
	}
	s, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, rest := args[0], args[1:]
	switch sub {
	case "put":
		if len(rest) != 2 {
			return fmt.Errorf("store put: expected name and record file")
		}
		t, err := transform.Read(rest[1])
		if err != nil {
			return fmt.Errorf("store put: %w", err)
		}
		return s.Put(ctx, rest[0], t)
	case "get":
		fs := newFlagSet("store get", stderr)
		out := fs.String("o", "", "Write the record here instead of stdout")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("store get: expected a name")
		}
		rec, err := s.GetRecord(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return emit(rec, *out, stdout)
	case "list":
		entries, err := s.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Kind)
		}
		return w.Flush()
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("store delete: expected a name")
		}
		return s.Delete(ctx, rest[0])
	}
	return fmt.Errorf("store: unknown subcommand %q", sub)
}

// loadMesh reads the mesh at path, or builds p when path is empty.
func (a *App) loadMesh(path string, p Part) (*kernel.Mesh, error) {
	if path != "" {
		return ReadMesh(path)
	}
	return a.BuildPart(p, 0)
}

func (a *App) cmdQuery(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("query", stderr)
	tpath := fs.String("t", "", "Also answer the queries after applying this transform")
	in := fs.String("in", "", "Mesh JSON to query")
	part := partFlags(fs)
	var nearest, lo, hi vecFlag
	fs.Var(&nearest, "nearest", "Report the vertex closest to x,y,z")
	fs.Var(&lo, "lo", "One corner of a box to search")
	fs.Var(&hi, "hi", "The opposite corner of the box")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if lo.set != hi.set {
		return fmt.Errorf("query: -lo and -hi go together")
	}
	if !nearest.set && !lo.set {
		return fmt.Errorf("query: nothing to ask, give -nearest or -lo/-hi")
	}

	m, err := a.loadMesh(*in, part())
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	answer := func(label string) {
		if nearest.set {
			if i, ok := m.NearestVertex(nearest.v); ok {
				v := m.Vertex(i)
				fmt.Fprintf(w, "%s	nearest	%d	(%g, %g, %g)
", label, i, v.X, v.Y, v.Z)
			}
		}
		if lo.set {
			fmt.Fprintf(w, "%s	within	%d	vertices
", label, len(m.VerticesWithin(lo.v, hi.v)))
		}
	}
	answer(m.Name)

	if *tpath != "" {
		t, err := transform.Read(*tpath)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if err := a.ApplyTransform(t, m); err != nil {
			return fmt.Errorf("query: %w", err)
		}
		label := t.Record().Name
		if label == "" {
			label = "transformed"
		}
		answer(label)
	}
	return w.Flush()
}
