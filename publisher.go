package flatmap

// Unbounded is the demand sentinel meaning "infinite requested". Requesting
// this value (or accumulating requested demand up to it) disables all
// backpressure accounting for the affected counter.
const Unbounded int64 = 1<<63 - 1

// Subscription is the downstream-facing handle a [Publisher] hands a
// [Subscriber] in OnSubscribe. It is the subscription handshake contract
// assumed by the flatMap core: n > 0 increases demand by n (saturating at
// [Unbounded]); n <= 0 is a protocol violation the caller should treat as
// [ErrIllegalRequest]. Cancel is idempotent and may be called from any
// goroutine, any number of times, including concurrently with terminal
// signals.
type Subscription interface {
	Request(n int64)
	Cancel()
}

// Subscriber receives the signals of a [Publisher]. OnSubscribe is always
// the first signal, called exactly once. OnNext is only ever delivered in
// response to previously granted demand. Exactly one of OnError/OnComplete
// terminates the sequence, and each fires at most once.
type Subscriber[T any] interface {
	OnSubscribe(Subscription)
	OnNext(T)
	OnError(error)
	OnComplete()
}

// Publisher is a (possibly asynchronous) sequence of values of type T.
type Publisher[T any] interface {
	Subscribe(Subscriber[T])
}

// PublisherFunc adapts a plain function to a [Publisher].
type PublisherFunc[T any] func(Subscriber[T])

func (f PublisherFunc[T]) Subscribe(s Subscriber[T]) { f(s) }

// FusionMode negotiates the fusion protocol between a [QueueSubscription]
// producer and its consumer, per spec.md §4.4 / GLOSSARY.
type FusionMode int

const (
	// FusionNone means no fusion: the producer delivers values via OnNext
	// in response to Request, the consumer's queue (if any) is its own.
	FusionNone FusionMode = iota
	// FusionSync means the producer's queue is fully populated by the time
	// RequestFusion returns SYNC; the consumer must never call Request.
	FusionSync
	// FusionAsync means the producer enqueues and signals OnNext purely as
	// a wake-up marker; the consumer polls the shared queue for values.
	FusionAsync
	// FusionAny is not a granted mode, only ever passed by a consumer to
	// mean "I accept SYNC or ASYNC, whichever you can offer".
	FusionAny
)

// QueueSubscription is the fuseable extension of [Subscription]. A producer
// exposing this interface lets the consumer poll its internal queue directly
// instead of receiving values one at a time via OnNext, avoiding a copy.
type QueueSubscription[T any] interface {
	Subscription
	// RequestFusion negotiates the fusion mode. Called once, before any
	// Request. mode is the consumer's requested mode (normally FusionAny);
	// the return value is what the producer actually grants, one of
	// FusionNone, FusionSync, FusionAsync.
	RequestFusion(mode FusionMode) FusionMode
	// Poll removes and returns the next queued value. ok is false when the
	// queue is currently empty (not necessarily terminated).
	Poll() (value T, ok bool)
	// IsEmpty reports whether Poll would currently return ok=false.
	IsEmpty() bool
	// Clear discards all currently queued values, invoking the configured
	// discard hook for each one.
	Clear()
}

// ScalarCallable is a [Publisher] known to synchronously produce 0 or 1
// value without subscription side effects — the "scalar/callable
// publisher" of spec.md §4.1/§4.3. FlatMapMain probes mapper results for
// this interface to take the scalar fast path.
type ScalarCallable[T any] interface {
	Publisher[T]
	// Call evaluates the publisher synchronously. ok=false means the
	// publisher completes empty (no value). err != nil means evaluation
	// failed before producing a value.
	Call() (value T, ok bool, err error)
}
