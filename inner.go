package flatmap

import "sync/atomic"

// mainHandle is the slice of FlatMapMain's surface a FlatMapInner needs.
// Defining it as an interface (rather than a second type parameter on
// FlatMapInner) keeps FlatMapInner generic only over R, the inner
// publisher's element type — FlatMapMain's upstream element type T never
// needs to appear on the inner at all.
type mainHandle[R any] interface {
	scheduleDrain()
	// reportError always composes err into the error coordinator — used for
	// structural failures (queue overflow) that onErrorContinue never
	// swallows.
	reportError(err error)
	// handleInnerError routes an inner sequence's OnError signal: composed
	// into the error coordinator normally, or — when onErrorContinue is
	// active — reported to the continue hook and otherwise dropped, per
	// spec.md §4.6 ("errors from inner sequences without a known element are
	// simply dropped and logged").
	handleInnerError(err error)
	innerQueueSupplier() QueueSupplier[R]
	logger() Logger
	metrics() *operatorMetrics
	dropNext(v R)
}

// FlatMapInner is the per-inner subscriber of spec.md §4.4: it subscribes
// to one mapper-produced inner publisher, buffers or fuses its values, and
// never emits downstream itself — FlatMapMain's drain loop polls it.
type FlatMapInner[R any] struct {
	parent   mainHandle[R]
	index    int
	prefetch int
	limit    int

	producerSub Subscription
	queueSub    QueueSubscription[R]
	mode        FusionMode

	q       queue[R]
	produced int // owned exclusively by the drain loop; see limit replenish

	done      atomic.Bool
	cancelled atomic.Bool
}

// newFlatMapInner constructs an inner bound to parent, with the given
// prefetch. index is assigned by the caller immediately after insertion
// into the parent's [innerSet].
func newFlatMapInner[R any](parent mainHandle[R], prefetch int) *FlatMapInner[R] {
	if prefetch < 1 {
		prefetch = 1
	}
	limit := prefetch - prefetch/4
	if limit < 1 {
		limit = prefetch
	}
	return &FlatMapInner[R]{parent: parent, prefetch: prefetch, limit: limit}
}

var _ Subscriber[int] = (*FlatMapInner[int])(nil)

// OnSubscribe negotiates fusion (SYNC → ASYNC → NONE) per spec.md §4.4.1.
// A SYNC grant means the producer's queue IS this inner's queue and
// Request must never be forwarded to it; ASYNC and NONE both request an
// initial prefetch batch.
func (in *FlatMapInner[R]) OnSubscribe(sub Subscription) {
	in.producerSub = sub
	if in.cancelled.Load() {
		sub.Cancel()
		return
	}
	mode, queueSub := negotiateFusion[R](sub)
	in.mode = mode
	in.queueSub = queueSub
	in.parent.metrics().onInnerStarted()
	if mode == FusionSync {
		return // invariant: never Request a SYNC-fused producer
	}
	sub.Request(int64(in.prefetch))
}

// negotiateFusion probes sub for [QueueSubscription], requests SYNC->ASYNC
// fusion (via [FusionAny]), and reports the mode actually granted — a small
// standalone helper (rather than inlined in OnSubscribe) so the negotiation
// itself is independently testable, matching the teacher's preference for
// small testable helpers (eventloop's resolveLoopOptions is the same
// instinct applied to option resolution).
func negotiateFusion[R any](sub Subscription) (FusionMode, QueueSubscription[R]) {
	qs, ok := sub.(QueueSubscription[R])
	if !ok {
		return FusionNone, nil
	}
	switch qs.RequestFusion(FusionAny) {
	case FusionSync:
		return FusionSync, qs
	case FusionAsync:
		return FusionAsync, qs
	default:
		return FusionNone, nil
	}
}

// OnNext buffers v (NONE mode) or treats it as a pure wake-up signal
// (ASYNC mode, the value already lives in the fused queue) then schedules
// the main drain. ASYNC/SYNC inners never reach the "own queue" branch.
func (in *FlatMapInner[R]) OnNext(v R) {
	switch in.mode {
	case FusionAsync:
		// value already enqueued by the producer; nothing to store.
	default:
		if in.q == nil {
			in.q = in.parent.innerQueueSupplier()(in.prefetch)
		}
		if !in.q.Offer(v) {
			in.parent.metrics().onOverflow()
			in.done.Store(true)
			in.parent.reportError(&OverflowError{Source: "inner"})
		}
	}
	in.parent.scheduleDrain()
}

// OnError marks this inner done, hands t to the parent's handleInnerError
// (composed into the error coordinator unless onErrorContinue is active),
// and schedules a drain (which, in immediate mode, cancels all siblings and
// upstream).
func (in *FlatMapInner[R]) OnError(t error) {
	in.done.Store(true)
	in.parent.handleInnerError(t)
	in.parent.scheduleDrain()
}

// OnComplete marks this inner done (normal termination) and schedules a
// drain.
func (in *FlatMapInner[R]) OnComplete() {
	in.done.Store(true)
	in.parent.scheduleDrain()
}

// request forwards n to the producer subscription, except in SYNC mode
// where forwarding would violate the fusion contract (spec.md §4.4,
// testable property 7).
func (in *FlatMapInner[R]) request(n int) {
	if in.mode == FusionSync || in.producerSub == nil || n <= 0 {
		return
	}
	in.producerSub.Request(int64(n))
}

// cancel cancels the producer subscription at most once. Any buffered
// values are left for the drain loop to discard via the dropped-next hook.
func (in *FlatMapInner[R]) cancel() {
	if in.cancelled.CompareAndSwap(false, true) && in.producerSub != nil {
		in.producerSub.Cancel()
	}
}

// poll returns the next buffered/fused value, if any.
func (in *FlatMapInner[R]) poll() (R, bool) {
	switch in.mode {
	case FusionSync, FusionAsync:
		return in.queueSub.Poll()
	default:
		if in.q == nil {
			var zero R
			return zero, false
		}
		return in.q.Poll()
	}
}

// isQueueEmpty reports whether poll would currently return ok=false.
func (in *FlatMapInner[R]) isQueueEmpty() bool {
	switch in.mode {
	case FusionSync, FusionAsync:
		return in.queueSub == nil || in.queueSub.IsEmpty()
	default:
		return in.q == nil || in.q.IsEmpty()
	}
}

// isDone reports whether the inner has received a terminal signal
// (OnComplete or OnError) from its producer, or — for a SYNC-fused
// producer — whether its (fully pre-populated, per the fusion contract)
// queue has been drained. A SYNC-fused producer never calls OnComplete
// (spec.md §4.4: "no upstream request is ever issued" means no further
// signal is possible either), so "queue empty" is the only exhaustion
// signal that mode ever gets.
func (in *FlatMapInner[R]) isDone() bool {
	if in.mode == FusionSync {
		return in.queueSub == nil || in.queueSub.IsEmpty()
	}
	return in.done.Load()
}

// discard drops every buffered value, used on cancellation and inner
// removal: values in this inner's own queue go through the dropped-next
// hook; a fused producer's queue is emptied with its own Clear, which does
// not call that hook.
func (in *FlatMapInner[R]) discard() {
	switch in.mode {
	case FusionSync, FusionAsync:
		if in.queueSub != nil {
			in.queueSub.Clear()
		}
	default:
		if in.q != nil {
			in.q.Clear(in.parent.dropNext)
		}
	}
}

// onEmitted records one successful downstream emission sourced from this
// inner, replenishing the producer once produced reaches limit (the
// "request back the batch after a pass" accounting of spec.md §4.2).
func (in *FlatMapInner[R]) onEmitted() {
	in.produced++
	if in.produced >= in.limit {
		n := in.produced
		in.produced = 0
		in.request(n)
	}
}
