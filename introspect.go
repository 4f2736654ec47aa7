package flatmap

// RunStyle classifies how a FlatMapMain delivers its downstream signals, the
// RUN_STYLE introspection attribute of spec.md §6. The core never blocks and
// never schedules onto a separate executor of its own, so every instance
// reports RunStyleSync; the type exists so a caller's introspection layer
// has something stable to match against regardless of which operator it is
// looking at — the same posture eventloop.Loop.Metrics() takes for
// "always-available, cheap snapshot" accessors.
type RunStyle int

const (
	// RunStyleSync means signals are delivered synchronously on whichever
	// goroutine won the drain (the only style this operator ever exhibits).
	RunStyleSync RunStyle = iota
	// RunStyleAsync is reserved for a future collaborator that hands drain
	// work to a scheduler; FlatMapMain never reports it today.
	RunStyleAsync
)

func (s RunStyle) String() string {
	if s == RunStyleAsync {
		return "ASYNC"
	}
	return "SYNC"
}

// Introspection accessors below mirror spec.md §6's PARENT / ACTUAL /
// REQUESTED_FROM_DOWNSTREAM / PREFETCH / TERMINATED / CANCELLED / ERROR /
// BUFFERED / LARGE_BUFFERED / DELAY_ERROR / RUN_STYLE attributes as real,
// thread-safe exported methods, grounded on the GetRequested/IsCancelled
// accessor style of a reactive-streams subscription (other_examples'
// LingFramework reactive-flow.go) plus eventloop.Loop.Metrics()'s
// "returns a cheap value copy" posture.

// Actual returns the downstream [Subscriber] this operator serves.
func (m *FlatMapMain[T, R]) Actual() Subscriber[R] { return m.downstream }

// RequestedFromDownstream returns the current outstanding downstream demand.
func (m *FlatMapMain[T, R]) RequestedFromDownstream() int64 { return m.requested.get() }

// Prefetch returns the configured per-inner prefetch/replenish batch size.
func (m *FlatMapMain[T, R]) Prefetch() int { return m.cfg.prefetch }

// MaxConcurrency returns the configured maximum simultaneously-subscribed
// inner count, or [Unbounded].
func (m *FlatMapMain[T, R]) MaxConcurrency() int64 { return m.cfg.maxConcurrency }

// IsTerminated reports whether a terminal signal (OnComplete/OnError) has
// already fired downstream.
func (m *FlatMapMain[T, R]) IsTerminated() bool { return m.terminalFired.Load() }

// IsCancelled reports whether downstream has cancelled this operator.
func (m *FlatMapMain[T, R]) IsCancelled() bool { return m.cancelled.Load() }

// Error returns the currently accumulated (possibly composite) error, or nil
// if none has been observed yet. Safe to call at any time; does not
// terminalize the error coordinator.
func (m *FlatMapMain[T, R]) Error() error { return m.errs.peek() }

// Buffered returns the number of values currently queued and not yet
// delivered downstream: the scalar queue plus every live inner's queue.
func (m *FlatMapMain[T, R]) Buffered() int {
	total := 0
	m.scalarMu.Lock()
	if m.scalarQ != nil {
		total += m.scalarQ.Len()
	}
	m.scalarMu.Unlock()
	n := m.inners.length()
	for i := 0; i < n; i++ {
		if in := m.inners.at(i); in != nil {
			total += in.bufferedLen()
		}
	}
	return total
}

// LargeBuffered is [Buffered] widened to int64, the LARGE_BUFFERED
// introspection attribute for counts too large to fit comfortably in an
// int-typed accessor on 32-bit platforms.
func (m *FlatMapMain[T, R]) LargeBuffered() int64 { return int64(m.Buffered()) }

// DelayErrors reports whether this operator was configured with
// [WithDelayErrors].
func (m *FlatMapMain[T, R]) DelayErrors() bool { return m.cfg.delayErrors }

// RunStyle reports how this operator delivers signals; always
// [RunStyleSync] (see RunStyle's doc comment).
func (m *FlatMapMain[T, R]) RunStyle() RunStyle { return RunStyleSync }

// Metrics returns a point-in-time snapshot of this operator's optional
// counters (zero-valued unless constructed with [WithMetrics]).
func (m *FlatMapMain[T, R]) Metrics() Metrics { return m.metricsD.snapshot() }

// Parent returns the [FlatMapMain] this inner feeds, as a [mainHandle]. The
// concrete *FlatMapMain isn't recoverable here since FlatMapInner only knows
// the narrow mainHandle surface (see inner.go's doc comment on that
// decision) — callers needing the concrete parent should hold their own
// reference to the FlatMapMain they constructed.
func (in *FlatMapInner[R]) Parent() mainHandle[R] { return in.parent }

// Index returns this inner's current slot index within the parent's
// innerSet.
func (in *FlatMapInner[R]) Index() int { return in.index }

// Prefetch returns this inner's configured prefetch/replenish batch size.
func (in *FlatMapInner[R]) Prefetch() int { return in.prefetch }

// IsTerminated reports whether this inner has received OnComplete/OnError,
// or, for a SYNC-fused inner, whether its fused queue has been drained.
func (in *FlatMapInner[R]) IsTerminated() bool { return in.isDone() }

// IsCancelled reports whether this inner's producer subscription has been
// cancelled.
func (in *FlatMapInner[R]) IsCancelled() bool { return in.cancelled.Load() }

// FusionMode returns the fusion mode negotiated on subscribe.
func (in *FlatMapInner[R]) FusionMode() FusionMode { return in.mode }

// Buffered returns the number of values currently queued on this inner.
func (in *FlatMapInner[R]) Buffered() int { return in.bufferedLen() }

// bufferedLen is the shared implementation behind FlatMapInner.Buffered and
// FlatMapMain.Buffered's per-inner accumulation.
func (in *FlatMapInner[R]) bufferedLen() int {
	switch in.mode {
	case FusionSync, FusionAsync:
		if in.queueSub == nil {
			return 0
		}
		if l, ok := in.queueSub.(interface{ Len() int }); ok {
			return l.Len()
		}
		if in.queueSub.IsEmpty() {
			return 0
		}
		return 1
	default:
		if in.q == nil {
			return 0
		}
		return in.q.Len()
	}
}
