// Package transform implements 3D spatial transformations: an affine
// transform stack with explicit composition order and a concatenation
// history (Linear), and a thin-plate-spline landmark warp (ThinPlate).
//
// Both kinds satisfy Transformer. They map single points, rewrite the
// geometry of any Dataset in place, invert, clone, and round-trip through a
// flat JSON Record.
//
// Transforms hold no locks. Applying a transform never mutates it, so one
// fully built transform may be shared by many goroutines; building or
// inverting one must happen on a single goroutine.
package transform
