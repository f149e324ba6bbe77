// Package engine provides the Lisp evaluation engine for xform.
// It wraps zygomys in a sandboxed environment and produces a transform
// from user source code.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/xform/pkg/transform"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Defaults are the spline settings used when a landmarks form leaves them out.
type Defaults struct {
	Basis                transform.Basis
	Sigma                float64
	InverseTolerance     float64
	MaxInverseIterations int
}

// DefaultDefaults returns a 3D basis with sigma 1 and the package inverse
// settings.
func DefaultDefaults() Defaults {
	return Defaults{
		Basis:                transform.Basis3D,
		Sigma:                1,
		InverseTolerance:     transform.DefaultInverseTolerance,
		MaxInverseIterations: transform.DefaultMaxInverseIterations,
	}
}

// Engine wraps the zygomys interpreter for xform evaluation.
// It is safe for concurrent use; each call to Evaluate creates a fresh
// sandboxed environment for determinism.
type Engine struct {
	mu         sync.Mutex
	generation uint64
	timeout    time.Duration
	defaults   Defaults
}

// NewEngine creates a new Engine instance.
func NewEngine() *Engine {
	return &Engine{timeout: EvalTimeout, defaults: DefaultDefaults()}
}

// SetTimeout changes the evaluation limit. Non-positive values restore
// EvalTimeout.
func (e *Engine) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = EvalTimeout
	}
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

// SetDefaults changes the spline defaults used by later evaluations.
func (e *Engine) SetDefaults(d Defaults) {
	e.mu.Lock()
	e.defaults = d
	e.mu.Unlock()
}

// Evaluate takes Lisp source code and produces the transform it builds.
// Each call creates a fresh zygomys sandbox for deterministic evaluation.
//
// Return semantics:
//   - On success: returns transform + nil errors + nil error
//   - On parse/eval failure: returns nil transform + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
func (e *Engine) Evaluate(source string) (transform.Transformer, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	timeout, defaults := e.timeout, e.defaults
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		t, evalErrs, err := e.evaluate(source, defaults)
		ch <- evalResult{transform: t, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, timeout, &e.mu, &e.generation)
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(source string, d Defaults) (transform.Transformer, []EvalError, error) {
	s := newSession(d)

	// Empty source is a valid program that produces the identity.
	if strings.TrimSpace(source) == "" {
		return s.result(), nil, nil
	}

	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, s)

	err := env.LoadString(preprocessSource(source))
	if err != nil {
		return nil, parseZygomysError(err), nil
	}

	_, err = env.Run()
	if err != nil {
		return nil, parseZygomysError(err), nil
	}

	return s.result(), nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	// zygomys formats parse errors as "Error on line N: <details>\n"
	if m := linePattern.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
	}

	if m := linePatternShort.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
	}

	// Fallback: no line info available.
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
