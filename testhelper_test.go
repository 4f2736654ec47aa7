package flatmap

import "sync"

// fakeMainHandle is a minimal [mainHandle] used by innerset_test.go/inner_test.go
// to exercise FlatMapInner in isolation, without spinning up a full
// FlatMapMain.
type fakeMainHandle struct {
	mu            sync.Mutex
	drains        int
	reported      []error
	innerErrors   []error
	dropped       []any
	innerSupplier QueueSupplier[int]
	log           Logger
	m             operatorMetrics
}

func (f *fakeMainHandle) scheduleDrain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
}

func (f *fakeMainHandle) reportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, err)
}

func (f *fakeMainHandle) handleInnerError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.innerErrors = append(f.innerErrors, err)
}

func (f *fakeMainHandle) innerQueueSupplier() QueueSupplier[int] {
	if f.innerSupplier != nil {
		return f.innerSupplier
	}
	return DefaultBoundedQueueSupplier[int]()
}

func (f *fakeMainHandle) logger() Logger {
	if f.log != nil {
		return f.log
	}
	return NoopLogger()
}

func (f *fakeMainHandle) metrics() *operatorMetrics { return &f.m }

func (f *fakeMainHandle) dropNext(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, v)
}

var _ mainHandle[int] = (*fakeMainHandle)(nil)

// recorder is a [Subscriber] that records every signal it receives, for
// assertions in table-driven scenario tests. Safe for concurrent OnNext (the
// operator never delivers concurrently, but a test may still read while a
// background goroutine is draining).
type recorder[T any] struct {
	mu         sync.Mutex
	sub        Subscription
	values     []T
	err        error
	completed  bool
	onSubCount int
}

func (r *recorder[T]) OnSubscribe(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSubCount++
	r.sub = s
}

func (r *recorder[T]) OnNext(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func (r *recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *recorder[T]) Request(n int64) {
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()
	if sub != nil {
		sub.Request(n)
	}
}

func (r *recorder[T]) Cancel() {
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// manualPublisher is a test-only [Publisher] (and its own [Subscription])
// that a test drives by hand: push values/errors/completion and observe
// Request/Cancel calls, to exercise races and interleavings the canned
// sources (Just/Range/FromSlice) can't reach.
type manualPublisher[T any] struct {
	mu          sync.Mutex
	sub         Subscriber[T]
	requested   int64
	cancelled   bool
	subscribed  bool
	requestHist []int64
}

func (p *manualPublisher[T]) Subscribe(s Subscriber[T]) {
	p.mu.Lock()
	p.sub = s
	p.subscribed = true
	p.mu.Unlock()
	s.OnSubscribe(p)
}

func (p *manualPublisher[T]) Request(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested += n
	p.requestHist = append(p.requestHist, n)
}

func (p *manualPublisher[T]) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
}

func (p *manualPublisher[T]) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *manualPublisher[T]) push(v T) {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	sub.OnNext(v)
}

func (p *manualPublisher[T]) fail(err error) {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	sub.OnError(err)
}

func (p *manualPublisher[T]) complete() {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	sub.OnComplete()
}
