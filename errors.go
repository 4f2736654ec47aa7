package flatmap

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNilElement is synthesized when a mapper's inner publisher emits a nil
// pointer/interface value where spec.md §7 requires a NullPointerException
// equivalent.
var ErrNilElement = errors.New("flatmap: nil element not allowed")

// ErrNilPublisher is synthesized when mapper(element) returns a nil
// [Publisher] (spec.md §4.1.2: treated identically to ErrNilElement).
var ErrNilPublisher = errors.New("flatmap: mapper returned nil publisher")

// ErrIllegalRequest is returned (surfaced via OnError, never panicked) when
// Subscription.Request is called with n <= 0, per the external contract in
// spec.md §6.
var ErrIllegalRequest = errors.New("flatmap: request amount must be positive")

// OverflowError is the distinguished error kind of spec.md §7 "Overflow":
// a value arrived with no queue slot available and no demand to absorb it.
// Use [errors.As] to detect it across wrapping.
type OverflowError struct {
	// Source names where the overflow occurred: "scalar", "inner", or a
	// caller-supplied identifier.
	Source string
}

func (e *OverflowError) Error() string {
	if e.Source == "" {
		return "flatmap: queue overflow"
	}
	return fmt.Sprintf("flatmap: queue overflow (%s)", e.Source)
}

// IsOverflow reports whether err is, or wraps, an [OverflowError].
func IsOverflow(err error) bool {
	var o *OverflowError
	return errors.As(err, &o)
}

// PanicError wraps a recovered panic value from a user-supplied mapper
// function, mirroring the teacher's pattern of recovering handler panics at
// a settlement boundary rather than letting them unwind across the drain
// loop.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flatmap: mapper panicked: %v", e.Value)
}

// AggregateAsyncError is the composable multi-error accumulator behind the
// error coordinator of spec.md §4.6: each new error observed while one is
// already pending is folded into Errors rather than discarded, so delayed
// and racing terminations never silently lose an error.
//
// Modeled directly on the teacher's AggregateError: implements the
// multi-error Unwrap() []error form, so [errors.Is]/[errors.As] see every
// composed error ([errors.Unwrap] itself returns nil for it).
type AggregateAsyncError struct {
	Errors []error
}

func (e *AggregateAsyncError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("flatmap: %d errors occurred:\n\t%s", len(e.Errors), strings.Join(msgs, "\n\t"))
}

func (e *AggregateAsyncError) Unwrap() []error { return e.Errors }

// composeError folds next into existing, returning the new composite. A
// nil existing simply becomes next (no wrapping for the single-error case,
// matching spec.md §4.6 "first error wins" when delayError is off and only
// one error is ever observed).
func composeError(existing, next error) error {
	if next == nil {
		return existing
	}
	if existing == nil {
		return next
	}
	if agg, ok := existing.(*AggregateAsyncError); ok {
		agg.Errors = append(agg.Errors, next)
		return agg
	}
	return &AggregateAsyncError{Errors: []error{existing, next}}
}

// DroppedErrorHook is invoked for errors that arrive after the error
// coordinator has already swapped in the terminal sentinel (spec.md §3
// invariant 3, §7 "Double terminal"). The default hook is a no-op; install
// one via [WithDroppedErrorHook] to log or count drops.
type DroppedErrorHook func(err error)

// DroppedNextHook is invoked for values that arrive after cancellation or
// past a terminal state and must be discarded rather than delivered
// (spec.md invariant 8, the "discard hook"). v is passed as any since the
// hook is shared across differently-typed inners.
type DroppedNextHook func(v any)

// errorCoordinator is the error coordinator of spec.md §4.6/§3 invariant 3:
// a mutex-guarded composite accumulator that latches once terminalize is
// called — any error deposited afterwards is routed to the dropped-error
// hook instead of being composed in.
//
// A plain mutex stands in for the "atomic reference + CAS swap to a
// terminal sentinel" described in the spec: the critical section is a
// handful of field writes, so a mutex gives the same at-most-once
// semantics with less ceremony than reimplementing CAS-loop composition.
type errorCoordinator struct {
	mu       sync.Mutex
	err      error
	terminal bool
	dropped  DroppedErrorHook
}

// add composes next into the accumulated error, unless the coordinator has
// already been terminalized, in which case next is routed to the
// dropped-error hook and discarded.
func (c *errorCoordinator) add(next error) {
	if next == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		if c.dropped != nil {
			c.dropped(next)
		}
		return
	}
	c.err = composeError(c.err, next)
}

// peek returns the currently accumulated error without terminalizing.
func (c *errorCoordinator) peek() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// terminalize swaps in the terminal sentinel (no further composition is
// possible) and returns the final composed error.
func (c *errorCoordinator) terminalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminal = true
	return c.err
}
