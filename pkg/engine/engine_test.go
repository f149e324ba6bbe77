package engine

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/xform/pkg/transform"
)

// mustLinear fails the test unless tr is an affine transform.
func mustLinear(t *testing.T, tr transform.Transformer) *transform.Linear {
	t.Helper()
	l, ok := tr.(*transform.Linear)
	if !ok {
		t.Fatalf("result = %T, want *transform.Linear", tr)
	}
	return l
}

func TestEvaluateEmptyString(t *testing.T) {
	eng := NewEngine()

	for _, src := range []string{"", "   \n\t  \n  "} {
		tr, evalErrs, err := eng.Evaluate(src)
		if err != nil {
			t.Fatalf("unexpected fatal error: %v", err)
		}
		if len(evalErrs) > 0 {
			t.Fatalf("unexpected eval errors: %v", evalErrs)
		}
		if !mustLinear(t, tr).IsIdentity() {
			t.Errorf("Evaluate(%q) is not the identity", src)
		}
	}
}

func TestEvaluatePlainLisp(t *testing.T) {
	eng := NewEngine()

	source := `
(def x 10)
(def y 20)
(+ x y)
`
	tr, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("unexpected eval errors: %v", evalErrs)
	}
	if !mustLinear(t, tr).IsIdentity() {
		t.Error("expression without builtins changed the transform")
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	eng := NewEngine()

	// Unmatched paren is a parse error.
	tr, evalErrs, err := eng.Evaluate("(+ 1 2")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if tr != nil {
		t.Fatal("expected nil transform on syntax error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for syntax error")
	}
	if evalErrs[0].Message == "" {
		t.Error("eval error message should not be empty")
	}
}

func TestEvaluateUndefinedSymbol(t *testing.T) {
	eng := NewEngine()

	tr, evalErrs, err := eng.Evaluate("(+ 1 undefined-symbol)")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if tr != nil {
		t.Fatal("expected nil transform on eval error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for undefined symbol")
	}
}

func TestEvaluateSyntaxErrorHasLineInfo(t *testing.T) {
	eng := NewEngine()

	source := "(+ 1 2)\n(+ 3"
	_, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error")
	}

	// Line info depends on the zygomys error format; only the message is
	// guaranteed.
	e := evalErrs[0]
	if e.Message == "" {
		t.Error("eval error message should not be empty")
	}
	t.Logf("line=%d, message=%q", e.Line, e.Message)
}

func TestEvalErrorImplementsError(t *testing.T) {
	e := EvalError{Line: 5, Message: "something went wrong"}
	s := e.Error()
	if !strings.Contains(s, "line 5") {
		t.Errorf("Error() should contain line info, got: %s", s)
	}
	if !strings.Contains(s, "something went wrong") {
		t.Errorf("Error() should contain message, got: %s", s)
	}

	e2 := EvalError{Message: "no location"}
	if strings.Contains(e2.Error(), "line") {
		t.Errorf("Error() with no line should not contain 'line', got: %s", e2.Error())
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	eng := NewEngine()
	src := `(translate (vec3 1 2 3)) (rotate-z 30 :around :position)`

	var first transform.Matrix4
	for i := 0; i < 5; i++ {
		tr, evalErrs, err := eng.Evaluate(src)
		if err != nil {
			t.Fatalf("iteration %d: unexpected fatal error: %v", i, err)
		}
		if len(evalErrs) > 0 {
			t.Fatalf("iteration %d: unexpected eval errors: %v", i, evalErrs)
		}
		m := mustLinear(t, tr).Matrix()
		if i == 0 {
			first = m
			continue
		}
		if !m.ApproxEqual(first, 0) {
			t.Errorf("iteration %d: matrix %v differs from %v", i, m, first)
		}
	}
}

func TestEvaluateTimeout(t *testing.T) {
	var mu sync.Mutex
	var gen uint64 = 1
	ch := make(chan evalResult) // Never sends

	done := make(chan struct{})
	var resultErr error
	go func() {
		defer close(done)
		_, _, resultErr = waitWithTimeout(ch, 1, 50*time.Millisecond, &mu, &gen)
	}()

	select {
	case <-done:
		if resultErr == nil {
			t.Fatal("expected timeout error, got nil")
		}
		if !strings.Contains(resultErr.Error(), "timed out") {
			t.Errorf("expected timeout error message, got: %v", resultErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("test itself timed out waiting for evaluation timeout")
	}
}

func TestSetTimeout(t *testing.T) {
	eng := NewEngine()
	eng.SetTimeout(time.Second)
	if eng.timeout != time.Second {
		t.Errorf("timeout = %s, want 1s", eng.timeout)
	}
	eng.SetTimeout(0)
	if eng.timeout != EvalTimeout {
		t.Errorf("timeout = %s, want %s", eng.timeout, EvalTimeout)
	}
}

func TestEvaluateGenerationDiscardsStale(t *testing.T) {
	var mu sync.Mutex
	gen := uint64(2) // Current generation is 2

	ch := make(chan evalResult, 1)
	ch <- evalResult{}

	// Pass generation 1 (stale).
	_, _, err := waitWithTimeout(ch, 1, EvalTimeout, &mu, &gen)
	if err == nil {
		t.Fatal("expected error for stale generation")
	}
	if !strings.Contains(err.Error(), "superseded") {
		t.Errorf("expected superseded error, got: %v", err)
	}
}

func TestParseZygomysError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "error on line format",
			msg:      "Error on line 5: unexpected token\n",
			wantLine: 5,
			wantMsg:  "unexpected token",
		},
		{
			name:     "no line info",
			msg:      "some generic error",
			wantLine: 0,
			wantMsg:  "some generic error",
		},
		{
			name:     "line format lowercase",
			msg:      "error on line 12: missing paren",
			wantLine: 12,
			wantMsg:  "missing paren",
		},
		{
			name:     "short line format",
			msg:      "line 3: rotate: degenerate axis",
			wantLine: 3,
			wantMsg:  "degenerate axis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := parseZygomysError(errString(tt.msg))
			if len(errs) == 0 {
				t.Fatal("expected at least one error")
			}
			e := errs[0]
			if e.Line != tt.wantLine {
				t.Errorf("line = %d, want %d", e.Line, tt.wantLine)
			}
			if !strings.Contains(e.Message, tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", e.Message, tt.wantMsg)
			}
		})
	}
}

// errString is a simple error type for testing.
type errString string

func (e errString) Error() string { return string(e) }
