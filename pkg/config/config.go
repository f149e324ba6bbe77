// Package config loads xform settings from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/xform/pkg/engine"
	"github.com/chazu/xform/pkg/kernel"
	"github.com/chazu/xform/pkg/transform"
)

// FileName is the default configuration file name.
const FileName = "xform.toml"

// Config is the full set of tunables.
type Config struct {
	Transform TransformConfig `toml:"transform"`
	ThinPlate ThinPlateConfig `toml:"thin_plate"`
	Engine    EngineConfig    `toml:"engine"`
	Store     StoreConfig     `toml:"store"`
	Mesh      MeshConfig      `toml:"mesh"`
}

// TransformConfig holds the numeric tolerances of the transform package.
type TransformConfig struct {
	IdentityTolerance float64 `toml:"identity_tolerance"`
	SingularTolerance float64 `toml:"singular_tolerance"`
}

// ThinPlateConfig holds spline defaults for scripts that omit them.
type ThinPlateConfig struct {
	Mode              string  `toml:"mode"`
	Sigma             float64 `toml:"sigma"`
	InverseTolerance  float64 `toml:"inverse_tolerance"`
	InverseIterations int     `toml:"inverse_iterations"`
}

// EngineConfig bounds script evaluation.
type EngineConfig struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"`
}

// StoreConfig locates the record catalog. A relative path is resolved
// against the working directory.
type StoreConfig struct {
	Path string `toml:"path"`
}

// MeshConfig sets the marching cubes resolution for generated meshes.
type MeshConfig struct {
	Cells int `toml:"cells"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Transform: TransformConfig{
			IdentityTolerance: 1e-8,
			SingularTolerance: 1e-12,
		},
		ThinPlate: ThinPlateConfig{
			Mode:              transform.Basis3D.String(),
			Sigma:             1,
			InverseTolerance:  transform.DefaultInverseTolerance,
			InverseIterations: transform.DefaultMaxInverseIterations,
		},
		Engine: EngineConfig{TimeoutSeconds: engine.EvalTimeout.Seconds()},
		Store:  StoreConfig{Path: "xform.db"},
		Mesh:   MeshConfig{Cells: kernel.DefaultMeshCells},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Write saves c to path, creating the directory if needed.
func (c Config) Write(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	switch {
	case c.Transform.IdentityTolerance <= 0:
		return fmt.Errorf("transform.identity_tolerance must be positive")
	case c.Transform.SingularTolerance <= 0:
		return fmt.Errorf("transform.singular_tolerance must be positive")
	case c.ThinPlate.Sigma <= 0:
		return fmt.Errorf("thin_plate.sigma must be positive")
	case c.ThinPlate.InverseTolerance <= 0:
		return fmt.Errorf("thin_plate.inverse_tolerance must be positive")
	case c.ThinPlate.InverseIterations <= 0:
		return fmt.Errorf("thin_plate.inverse_iterations must be positive")
	case c.Engine.TimeoutSeconds <= 0:
		return fmt.Errorf("engine.timeout_seconds must be positive")
	case c.Mesh.Cells <= 0:
		return fmt.Errorf("mesh.cells must be positive")
	}
	if _, err := transform.ParseBasis(c.ThinPlate.Mode); err != nil {
		return fmt.Errorf("thin_plate.mode: %w", err)
	}
	return nil
}

// Apply pushes the tolerances into the transform package. It is not safe to
// call while transforms are in use on other goroutines.
func (c Config) Apply() {
	transform.IdentityTolerance = c.Transform.IdentityTolerance
	transform.SingularTolerance = c.Transform.SingularTolerance
}

// EngineDefaults returns the spline defaults for the script engine.
func (c Config) EngineDefaults() (engine.Defaults, error) {
	b, err := transform.ParseBasis(c.ThinPlate.Mode)
	if err != nil {
		return engine.Defaults{}, fmt.Errorf("config: thin_plate.mode: %w", err)
	}
	return engine.Defaults{
		Basis:                b,
		Sigma:                c.ThinPlate.Sigma,
		InverseTolerance:     c.ThinPlate.InverseTolerance,
		MaxInverseIterations: c.ThinPlate.InverseIterations,
	}, nil
}

// Timeout returns the evaluation limit.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds * float64(time.Second))
}
