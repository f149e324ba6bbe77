package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/xform/pkg/transform"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog", "xform.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetLinear(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tr := transform.NewLinear().
		Translate(r3.Vec{X: 3, Z: 1}).
		RotateZ(transform.Deg(45), transform.CurrentPosition).
		SetName("pose")
	if err := s.Put(ctx, "pose", tr); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "pose")
	if err != nil {
		t.Fatal(err)
	}
	l, ok := got.(*transform.Linear)
	if !ok {
		t.Fatalf("Get() = %T, want *transform.Linear", got)
	}
	if diff := cmp.Diff(tr.Matrix().Rows(), l.Matrix().Rows(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("matrix mismatch (-want +got):\n%s", diff)
	}
	if l.Name() != "pose" {
		t.Errorf("Name() = %q", l.Name())
	}
}

func TestPutGetThinPlate(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	src := []r3.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1, Z: 1}}
	dst := []r3.Vec{{}, {X: 2}, {Y: 2}, {Z: 2}, {X: 1.5, Y: 1.5, Z: 1.5}}
	w, err := transform.NewThinPlateFromLandmarks(src, dst, transform.Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "warp", w); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "warp")
	if err != nil {
		t.Fatal(err)
	}
	gw, ok := got.(*transform.ThinPlate)
	if !ok {
		t.Fatalf("Get() = %T, want *transform.ThinPlate", got)
	}
	p := r3.Vec{X: 0.3, Y: 0.6, Z: 0.2}
	want, _ := w.ApplyPoint(p)
	have, err := gw.ApplyPoint(p)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Norm(r3.Sub(want, have)) > 1e-9 {
		t.Errorf("restored warp maps %v to %v, want %v", p, have, want)
	}
}

func TestPutReplacesAndList(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	w, err := transform.NewThinPlateFromLandmarks(
		[]r3.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}},
		[]r3.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}},
		transform.Basis3D)
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []struct {
		name string
		t    transform.Transformer
	}{
		{"b", transform.NewLinear()},
		{"a", transform.NewLinear().Translate(r3.Vec{X: 1})},
		{"b", w},
	} {
		if err := s.Put(ctx, step.name, step.t); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{{Name: "a", Kind: transform.KindLinear}, {Name: "b", Kind: transform.KindThinPlate}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	if err := s.Put(ctx, "gone", transform.NewLinear()); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "", transform.NewLinear()); err == nil {
		t.Error("Put() with empty name succeeded")
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "xform.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "keep", transform.NewLinear().Translate(r3.Vec{Y: 4})); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "keep")
	if err != nil {
		t.Fatal(err)
	}
	if p := got.(*transform.Linear).Position(); p != (r3.Vec{Y: 4}) {
		t.Errorf("Position() = %v, want (0, 4, 0)", p)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Put(ctx, "m", transform.NewLinear()); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("List() = %v, want one entry", entries)
	}
}
