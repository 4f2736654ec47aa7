package flatmap

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// FlatMapMain is the coordinator of spec.md §4.1/§4.2: it subscribes once to
// an upstream [Publisher][T], invokes mapper for each element to obtain an
// inner [Publisher][R], and merges every inner's values into a single
// downstream sequence. It is, itself, both the [Subscriber][T] upstream sees
// and the [Subscription] downstream sees — the same struct plays both roles,
// the way the teacher's Promise plays both "thenable" and its own settler.
type FlatMapMain[T, R any] struct {
	downstream Subscriber[R]
	mapper     func(T) Publisher[R]
	cfg        *config[R]

	upstreamSub Subscription
	requested   demand
	inners      innerSet[R]
	errs        errorCoordinator
	metricsD    operatorMetrics

	// scalarQ buffers values produced by the scalar/callable fast path
	// (spec.md §4.3) that could not be emitted immediately. Guarded by
	// scalarMu rather than folded into [queue]'s own locking, since OnNext
	// (any upstream goroutine) creates it lazily while the drain loop
	// (possibly a different goroutine, woken by an inner) reads it.
	scalarMu sync.Mutex
	scalarQ  queue[R]

	wip           atomic.Int64
	lastIndex     int // owned exclusively by the drain loop
	done          atomic.Bool
	cancelled     atomic.Bool
	terminalFired atomic.Bool
}

var _ Subscriber[int] = (*FlatMapMain[int, int])(nil)
var _ Subscription = (*FlatMapMain[int, int])(nil)
var _ mainHandle[int] = (*FlatMapMain[int, int])(nil)

// ---- Subscriber[T]: signals from upstream ----

func (m *FlatMapMain[T, R]) OnSubscribe(sub Subscription) {
	m.upstreamSub = sub
	m.downstream.OnSubscribe(m)
	if m.cancelled.Load() {
		sub.Cancel()
		return
	}
	if m.cfg.maxConcurrency >= Unbounded {
		sub.Request(Unbounded)
	} else {
		sub.Request(m.cfg.maxConcurrency)
	}
}

// OnNext applies mapper to t, per spec.md §4.1.2: a nil mapper result or a
// mapper panic is routed through handleElementError (which honors
// onErrorContinue); a [ScalarCallable] result takes the fast path; anything
// else is wrapped in a new [FlatMapInner] and subscribed.
func (m *FlatMapMain[T, R]) OnNext(t T) {
	if m.cancelled.Load() {
		return
	}
	pub, err := m.callMapper(t)
	if err != nil {
		m.handleElementError(err, t)
		return
	}
	if pub == nil {
		m.handleElementError(ErrNilPublisher, t)
		return
	}
	if sc, ok := pub.(ScalarCallable[R]); ok {
		v, has, cerr := sc.Call()
		if cerr != nil {
			m.handleElementError(cerr, t)
			return
		}
		if !has {
			m.requestUpstream(1)
			return
		}
		if isNilAny(v) {
			m.handleElementError(ErrNilElement, t)
			return
		}
		m.takeScalarFastPath(v)
		return
	}
	in := newFlatMapInner[R](m, m.cfg.prefetch)
	idx := m.inners.add(in)
	in.index = idx
	if m.cancelled.Load() {
		in.cancel()
		m.inners.removeAt(idx)
		return
	}
	pub.Subscribe(in)
	// A SYNC-fused inner's producer never itself calls onNext (its queue is
	// already fully populated by the time Subscribe returns), so nothing
	// else would ever wake the drain loop to poll it.
	m.scheduleDrain()
}

// handleElementError implements spec.md §4.6's per-element branch of
// onErrorContinue: with it enabled, the failure is reported to the user hook
// and one replacement element is requested from upstream; otherwise the
// error is composed and a drain is scheduled (immediate mode fails fast from
// the top of the next drain pass; delay mode waits for natural exhaustion).
func (m *FlatMapMain[T, R]) handleElementError(err error, element T) {
	if m.cfg.errorContinue {
		if m.cfg.onErrorContinue != nil {
			m.cfg.onErrorContinue(err, element)
		}
		logf(m.cfg.logger, LevelWarn, "element", "element dropped via onErrorContinue", err)
		m.requestUpstream(1)
		return
	}
	m.errs.add(err)
	m.scheduleDrain()
}

// callMapper invokes mapper, recovering a panic into an error the way the
// teacher's promise settlement recovers a handler panic into a PanicError.
func (m *FlatMapMain[T, R]) callMapper(t T) (pub Publisher[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	pub = m.mapper(t)
	return
}

func (m *FlatMapMain[T, R]) OnError(t error) {
	m.errs.add(t)
	m.done.Store(true)
	m.scheduleDrain()
}

func (m *FlatMapMain[T, R]) OnComplete() {
	m.done.Store(true)
	m.scheduleDrain()
}

// ---- Subscription: signals from downstream ----

func (m *FlatMapMain[T, R]) Request(n int64) {
	if n <= 0 {
		// Compose the error and let the drain loop terminate: every other
		// termination trigger reaches terminateWithError/terminateComplete
		// from inside the wip-guarded runDrain, and downstream callbacks must
		// never run concurrently with a drain in flight on another goroutine.
		m.errs.add(ErrIllegalRequest)
		m.scheduleDrain()
		return
	}
	m.requested.add(n)
	m.scheduleDrain()
}

func (m *FlatMapMain[T, R]) Cancel() {
	if !m.cancelled.CompareAndSwap(false, true) {
		return
	}
	if m.upstreamSub != nil {
		m.upstreamSub.Cancel()
	}
	m.inners.cancelAll()
	m.scheduleDrain()
}

// ---- mainHandle[R]: surface used by FlatMapInner ----

func (m *FlatMapMain[T, R]) reportError(err error) {
	m.errs.add(err)
}

func (m *FlatMapMain[T, R]) handleInnerError(err error) {
	if m.cfg.errorContinue {
		if m.cfg.onErrorContinue != nil {
			m.cfg.onErrorContinue(err, nil)
		}
		logf(m.cfg.logger, LevelWarn, "inner", "inner error continued", err)
		return
	}
	m.errs.add(err)
}

func (m *FlatMapMain[T, R]) innerQueueSupplier() QueueSupplier[R] { return m.cfg.innerQueueMaker }
func (m *FlatMapMain[T, R]) logger() Logger                       { return m.cfg.logger }
func (m *FlatMapMain[T, R]) metrics() *operatorMetrics            { return &m.metricsD }

func (m *FlatMapMain[T, R]) dropNext(v R) {
	if m.cfg.droppedNext != nil {
		m.cfg.droppedNext(v)
	}
}

// requestUpstream forwards n to the upstream subscription, a no-op before
// OnSubscribe or once cancelled.
func (m *FlatMapMain[T, R]) requestUpstream(n int64) {
	if n <= 0 || m.upstreamSub == nil || m.cancelled.Load() {
		return
	}
	m.upstreamSub.Request(n)
}

// ---- scalar queue: guarded lazily-created queue[R] ----

func (m *FlatMapMain[T, R]) scalarCapacityHint() int {
	if m.cfg.maxConcurrency <= 0 || m.cfg.maxConcurrency >= Unbounded {
		return 256
	}
	return int(m.cfg.maxConcurrency)
}

func (m *FlatMapMain[T, R]) enqueueScalar(v R) bool {
	m.scalarMu.Lock()
	defer m.scalarMu.Unlock()
	if m.scalarQ == nil {
		m.scalarQ = m.cfg.scalarQueueMaker(m.scalarCapacityHint())
	}
	return m.scalarQ.Offer(v)
}

func (m *FlatMapMain[T, R]) pollScalar() (R, bool) {
	m.scalarMu.Lock()
	defer m.scalarMu.Unlock()
	if m.scalarQ == nil {
		var zero R
		return zero, false
	}
	return m.scalarQ.Poll()
}

func (m *FlatMapMain[T, R]) scalarEmpty() bool {
	m.scalarMu.Lock()
	defer m.scalarMu.Unlock()
	return m.scalarQ == nil || m.scalarQ.IsEmpty()
}

func (m *FlatMapMain[T, R]) discardScalar() {
	m.scalarMu.Lock()
	defer m.scalarMu.Unlock()
	if m.scalarQ != nil {
		m.scalarQ.Clear(m.dropNext)
	}
}

// takeScalarFastPath implements spec.md §4.3: try to become the sole
// drainer (wip 0→1) and, if demand is currently available, emit v directly
// without ever touching the scalar queue; otherwise enqueue v and run (or
// schedule) a drain.
func (m *FlatMapMain[T, R]) takeScalarFastPath(v R) {
	if m.cancelled.Load() || m.terminalFired.Load() {
		m.dropNext(v)
		return
	}
	if m.wip.CompareAndSwap(0, 1) {
		if !m.cancelled.Load() && !m.terminalFired.Load() && m.requested.get() > 0 {
			m.emitDownstream(v)
			m.requested.sub(1)
			m.requestUpstream(1)
			m.runDrain()
			return
		}
		if !m.enqueueScalar(v) {
			m.metricsD.onOverflow()
			m.errs.add(&OverflowError{Source: "scalar"})
		}
		m.runDrain()
		return
	}
	if !m.enqueueScalar(v) {
		m.metricsD.onOverflow()
		m.errs.add(&OverflowError{Source: "scalar"})
	}
	m.scheduleDrain()
}

func (m *FlatMapMain[T, R]) emitDownstream(v R) {
	m.downstream.OnNext(v)
	m.metricsD.onEmit(1)
}

// ---- the drain loop ----

// scheduleDrain is the reentrant wip guard of spec.md §4.2/§9: increment;
// whoever observes the transition 0→1 runs the loop; everyone else's
// increment is simply a signal for the active drainer to loop once more.
func (m *FlatMapMain[T, R]) scheduleDrain() {
	m.metricsD.onDrainScheduled()
	if m.wip.Add(1) != 1 {
		return
	}
	m.runDrain()
}

// runDrain is only ever entered by the goroutine that just won the wip
// 0→1 transition (either here or in takeScalarFastPath). It must not be
// called otherwise.
func (m *FlatMapMain[T, R]) runDrain() {
	for {
		m.metricsD.onDrainExecuted()

		if m.cancelled.Load() || m.terminalFired.Load() {
			// Either downstream cancelled, or a terminal signal already
			// fired (e.g. a late inner onNext raced with delay-error
			// completion detection) — drop-and-terminate per the documented
			// resolution of that race, rather than risk emitting past a
			// terminal signal.
			m.discardAll()
			return
		}

		if !m.cfg.delayErrors {
			if err := m.errs.peek(); err != nil {
				m.terminateWithError(err)
				return
			}
		}

		if done := m.drainScalar(); done {
			return
		}
		if done := m.drainInners(); done {
			return
		}

		if m.done.Load() && m.scalarEmpty() && m.inners.empty() {
			if err := m.errs.peek(); err != nil {
				m.terminateWithError(err)
			} else {
				m.terminateComplete()
			}
			return
		}

		if m.wip.Add(-1) == 0 {
			return
		}
	}
}

// drainScalar emits as many queued scalar values as outstanding demand
// allows, batching the upstream replenish request into one call (spec.md
// §4.2's scalar-queue draining step). Returns true if the loop should stop
// because an immediate-mode error just surfaced mid-drain.
func (m *FlatMapMain[T, R]) drainScalar() (stop bool) {
	r := m.requested.get()
	var emitted int64
	for emitted < r {
		v, ok := m.pollScalar()
		if !ok {
			break
		}
		if m.cancelled.Load() {
			m.dropNext(v)
			continue
		}
		if isNilAny(v) {
			m.errs.add(ErrNilElement)
			if !m.cfg.delayErrors {
				m.terminateWithError(m.errs.peek())
				return true
			}
			continue
		}
		m.emitDownstream(v)
		emitted++
	}
	if emitted > 0 {
		m.requested.sub(emitted)
		m.requestUpstream(emitted)
		m.metricsD.onReplenish(emitted)
	}
	return false
}

// drainInners performs one round-robin circuit over the active inner set,
// starting at lastIndex, per spec.md §4.2. Round-robin picks which inner
// starts the circuit (so a single inner with a deep backlog can't always
// monopolize every drain call), but once an inner is visited its queue is
// drained to exhaustion (or until demand runs out) before moving to the
// next slot: a literal one-value-per-visit reading would never converge for
// a SYNC-fused inner, since such a producer issues no further onNext/wake-up
// event to justify revisiting it — the queue is fully populated up front
// and nothing else will ever prompt another drain pass. Draining each visit
// to exhaustion is what real reactive-streams flatMap implementations do;
// it is the correctness-preserving reading of "round-robin fairness"
// consistent with testable property 8 ("round-trip under full demand").
// Returns true if the loop should stop because an immediate-mode error just
// surfaced mid-drain.
//
// The done+empty removal below runs for every slot regardless of outstanding
// demand: spec.md's completion gate (every inner terminated, every queue
// empty) has nothing to do with downstream demand, and a subscriber that
// never calls Request is still entitled to onComplete once the sequence is
// actually exhausted. Only the value-draining half of this loop is
// demand-gated; the removal scan always runs the full circuit.
func (m *FlatMapMain[T, R]) drainInners() (stop bool) {
	n := m.inners.length()
	if n == 0 {
		return false
	}
	r := m.requested.get()
	hadDemand := r > 0
	j := m.lastIndex
	if j >= n {
		j = 0
	}
	nextStart := -1
	for i := 0; i < n; i++ {
		in := m.inners.at(j)
		if in == nil {
			j = (j + 1) % n
			continue
		}
		for r > 0 && !in.isQueueEmpty() {
			v, ok := in.poll()
			if !ok {
				break
			}
			if m.cancelled.Load() {
				m.dropNext(v)
			} else if isNilAny(v) {
				m.errs.add(ErrNilElement)
				in.done.Store(true)
				if !m.cfg.delayErrors {
					m.lastIndex = (j + 1) % n
					m.terminateWithError(m.errs.peek())
					return true
				}
			} else {
				m.emitDownstream(v)
				m.requested.sub(1)
				r--
			}
			in.onEmitted()
		}
		if in.isDone() && in.isQueueEmpty() {
			in.discard()
			m.inners.removeAt(j)
			m.metricsD.onInnerTerminated()
			m.requestUpstream(1)
		}
		if r <= 0 && nextStart == -1 {
			nextStart = (j + 1) % n
		}
		j = (j + 1) % n
	}
	if nextStart != -1 {
		m.lastIndex = nextStart
	} else if hadDemand {
		m.lastIndex = j
	}
	return false
}

// discardAll drops every buffered value (scalar queue and every live
// inner's queue) via the configured dropped-next hook, used once cancelled.
func (m *FlatMapMain[T, R]) discardAll() {
	m.discardScalar()
	n := m.inners.length()
	for i := 0; i < n; i++ {
		if in := m.inners.at(i); in != nil {
			in.discard()
		}
	}
}

// terminateWithError fires downstream.OnError at most once, first
// cancelling upstream and every live inner and discarding whatever remains
// buffered (spec.md §3 invariant 1, "exactly one terminal signal").
func (m *FlatMapMain[T, R]) terminateWithError(err error) {
	if !m.terminalFired.CompareAndSwap(false, true) {
		return
	}
	m.errs.terminalize()
	if m.upstreamSub != nil {
		m.upstreamSub.Cancel()
	}
	m.inners.cancelAll()
	m.discardAll()
	m.downstream.OnError(err)
}

// terminateComplete fires downstream.OnComplete at most once. If an error
// was composed into the coordinator in the narrow window between this
// drain's "no error pending" check and this call (e.g. a losing inner's
// OnError racing a winning inner's OnComplete under merge(2), per spec.md
// §8's "race complete/error" scenario), it is routed to the dropped-error
// hook rather than silently discarded by terminalize — exactly one terminal
// signal still reaches downstream, but the error is never simply lost.
func (m *FlatMapMain[T, R]) terminateComplete() {
	if !m.terminalFired.CompareAndSwap(false, true) {
		return
	}
	if err := m.errs.terminalize(); err != nil && m.cfg.droppedError != nil {
		m.cfg.droppedError(err)
	}
	m.downstream.OnComplete()
}

// isNilAny reports whether v is a nil pointer/interface/slice/map/chan/func,
// the generic stand-in for spec.md §7's "null element" check — Go has no
// universal null for type parameters, so this uses reflection the way a
// generic equality helper would (e.g. testify's ObjectsAreEqual) rather than
// requiring every R to satisfy a comparable-to-nil constraint.
func isNilAny[V any](v V) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
