package flatmap

import "sync/atomic"

// Just returns a [Publisher] that synchronously emits a single value then
// completes. It implements [ScalarCallable] so a mapper returning Just(v)
// takes the scalar fast path in FlatMapMain.OnNext instead of allocating a
// FlatMapInner.
func Just[T any](v T) Publisher[T] {
	return scalarPublisher[T]{value: v, hasValue: true}
}

// Empty returns a [Publisher] that completes immediately without emitting
// any value. It implements [ScalarCallable].
func Empty[T any]() Publisher[T] {
	return scalarPublisher[T]{}
}

// Error returns a [Publisher] that signals err without emitting any value.
// It implements [ScalarCallable].
func Error[T any](err error) Publisher[T] {
	return scalarPublisher[T]{err: err}
}

type scalarPublisher[T any] struct {
	value    T
	hasValue bool
	err      error
}

func (p scalarPublisher[T]) Call() (T, bool, error) {
	return p.value, p.hasValue, p.err
}

func (p scalarPublisher[T]) Subscribe(s Subscriber[T]) {
	s.OnSubscribe(&scalarSubscription[T]{pub: p, sub: s})
}

// scalarSubscription is used only when a scalarPublisher is subscribed to
// directly rather than probed via ScalarCallable (e.g. a mapper result fed
// straight to a test harness, or nested flatMap composition).
type scalarSubscription[T any] struct {
	pub  scalarPublisher[T]
	sub  Subscriber[T]
	done atomic.Bool
}

func (s *scalarSubscription[T]) Request(n int64) {
	if n <= 0 || !s.done.CompareAndSwap(false, true) {
		return
	}
	if s.pub.err != nil {
		s.sub.OnError(s.pub.err)
		return
	}
	if s.pub.hasValue {
		s.sub.OnNext(s.pub.value)
	}
	s.sub.OnComplete()
}

func (s *scalarSubscription[T]) Cancel() { s.done.Store(true) }

// Range emits the integers [start, start+count) in order, then completes.
// It is SYNC-fuseable: a consumer that negotiates fusion polls the range
// directly instead of receiving per-element OnNext signals.
func Range(start, count int) Publisher[int] {
	return PublisherFunc[int](func(s Subscriber[int]) {
		sub := &rangeSubscription{start: start, end: start + count, cur: start, sub: s}
		s.OnSubscribe(sub)
	})
}

type rangeSubscription struct {
	start, end int
	cur        int
	sub        Subscriber[int]
	fused      bool
	cancelled  atomic.Bool
}

var _ QueueSubscription[int] = (*rangeSubscription)(nil)

func (r *rangeSubscription) RequestFusion(mode FusionMode) FusionMode {
	if mode == FusionAny || mode == FusionSync {
		r.fused = true
		return FusionSync
	}
	return FusionNone
}

func (r *rangeSubscription) IsEmpty() bool { return r.cur >= r.end }

func (r *rangeSubscription) Poll() (int, bool) {
	if r.cur >= r.end {
		return 0, false
	}
	v := r.cur
	r.cur++
	return v, true
}

func (r *rangeSubscription) Clear() { r.cur = r.end }

func (r *rangeSubscription) Cancel() { r.cancelled.Store(true) }

// Request only drives emission for unfused consumers; a SYNC-fused
// consumer never calls it (spec.md §4.4 invariant).
func (r *rangeSubscription) Request(n int64) {
	if r.fused || n <= 0 || r.cancelled.Load() {
		return
	}
	// Completion latches the same flag Cancel sets, so OnComplete fires at
	// most once and a Request after completion is a no-op.
	for i := int64(0); i < n; i++ {
		v, ok := r.Poll()
		if !ok {
			if r.cancelled.CompareAndSwap(false, true) {
				r.sub.OnComplete()
			}
			return
		}
		if r.cancelled.Load() {
			return
		}
		r.sub.OnNext(v)
	}
	if r.IsEmpty() && r.cancelled.CompareAndSwap(false, true) {
		r.sub.OnComplete()
	}
}

// FromSlice emits the elements of vals in order, then completes. Like
// [Range] it is SYNC-fuseable.
func FromSlice[T any](vals []T) Publisher[T] {
	return PublisherFunc[T](func(s Subscriber[T]) {
		sub := &sliceSubscription[T]{vals: vals, sub: s}
		s.OnSubscribe(sub)
	})
}

type sliceSubscription[T any] struct {
	vals      []T
	idx       int
	sub       Subscriber[T]
	fused     bool
	cancelled atomic.Bool
}

func (s *sliceSubscription[T]) RequestFusion(mode FusionMode) FusionMode {
	if mode == FusionAny || mode == FusionSync {
		s.fused = true
		return FusionSync
	}
	return FusionNone
}

func (s *sliceSubscription[T]) IsEmpty() bool { return s.idx >= len(s.vals) }

func (s *sliceSubscription[T]) Poll() (T, bool) {
	var zero T
	if s.idx >= len(s.vals) {
		return zero, false
	}
	v := s.vals[s.idx]
	s.vals[s.idx] = zero
	s.idx++
	return v, true
}

func (s *sliceSubscription[T]) Clear() {
	var zero T
	for ; s.idx < len(s.vals); s.idx++ {
		s.vals[s.idx] = zero
	}
}

func (s *sliceSubscription[T]) Cancel() { s.cancelled.Store(true) }

func (s *sliceSubscription[T]) Request(n int64) {
	if s.fused || n <= 0 || s.cancelled.Load() {
		return
	}
	// Completion latches the same flag Cancel sets, as in rangeSubscription.
	for i := int64(0); i < n; i++ {
		v, ok := s.Poll()
		if !ok {
			if s.cancelled.CompareAndSwap(false, true) {
				s.sub.OnComplete()
			}
			return
		}
		if s.cancelled.Load() {
			return
		}
		s.sub.OnNext(v)
	}
	if s.IsEmpty() && s.cancelled.CompareAndSwap(false, true) {
		s.sub.OnComplete()
	}
}
