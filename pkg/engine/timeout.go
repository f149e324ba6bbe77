package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/chazu/xform/pkg/transform"
)

// EvalTimeout is the default hard limit for a single evaluation.
const EvalTimeout = 5 * time.Second

// evalResult carries one evaluation's outcome back from its goroutine.
type evalResult struct {
	transform transform.Transformer
	errors    []EvalError
	err       error
}

// waitWithTimeout returns the result sent on ch, or an error once timeout
// elapses. A result whose generation is no longer current was overtaken by a
// later Evaluate call and is dropped.
//
// A timed-out script keeps running in its sandbox; whatever it produces
// later is never read.
func waitWithTimeout(
	ch <-chan evalResult,
	gen uint64,
	timeout time.Duration,
	mu *sync.Mutex,
	currentGen *uint64,
) (transform.Transformer, []EvalError, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		stale := gen != *currentGen
		mu.Unlock()
		if stale {
			return nil, nil, fmt.Errorf("evaluation superseded by newer request")
		}
		return res.transform, res.errors, res.err
	case <-timer.C:
		return nil, nil, fmt.Errorf("evaluation timed out after %s", timeout)
	}
}
