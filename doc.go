// Package flatmap implements the core of a reactive-streams flatMap merge
// operator: it consumes an upstream sequence, applies a user-supplied
// mapping function producing one inner sequence per element, and merges the
// outputs of all concurrently-active inner sequences into a single ordered
// downstream delivery channel while honoring demand-based flow control.
//
// # Architecture
//
// [FlatMapMain] is the coordinator: it is both the [Subscriber] upstream
// calls and the [Subscription] downstream holds. Every non-scalar mapped
// element becomes a [FlatMapInner], tracked in a slotted array (innerSet),
// buffering its own producer's values (directly, or fused via
// [QueueSubscription]) until the drain loop polls them. A mapped element
// recognized as a [ScalarCallable] skips FlatMapInner allocation entirely
// and takes the scalar fast path straight into FlatMapMain's own queue.
//
// All of this converges on one serialized drain loop, guarded by a
// work-in-progress counter (wip): whichever goroutine's increment observes
// the 0→1 transition runs the loop; every other concurrent trigger (a
// downstream request, an inner's onNext, upstream's onComplete) just
// increments wip and returns, trusting the active drainer to observe it and
// loop again before exiting. Nothing in this package ever blocks.
//
// # Execution Model
//
// There is no scheduler here — callers drive it by calling Subscribe, which
// synchronously issues the initial upstream request, and by calling
// Request/OnNext/etc. from whatever goroutines their own transport uses.
// Downstream callbacks (OnNext/OnError/OnComplete) are always invoked from
// inside a drain pass and are therefore never concurrent with each other.
//
// # Thread Safety
//
// Every FlatMapMain/FlatMapInner field that can be touched from more than
// one goroutine is either an atomic (demand, wip, done, cancelled,
// terminalFired) or guarded by a small mutex scoped to its own structure
// (innerSet, the scalar/inner queues, the error coordinator). Fields the
// drain loop alone owns (lastIndex, an inner's produced counter) are never
// touched outside a drain pass and need no synchronization.
//
// # Error Handling
//
// Errors compose via [AggregateAsyncError] (see errors.go) rather than
// overwriting one another: immediate mode surfaces the first error and
// cancels everything else; delay-error mode ([WithDelayErrors]) keeps
// draining until upstream and every inner are exhausted, then surfaces
// whatever composed. [OverflowError] is a distinguished subtype detectable
// via [IsOverflow]. [WithErrorContinue] opts into per-element fault
// tolerance instead of whole-sequence failure.
//
// # Usage
//
//	out := flatmap.FlatMap(upstream, func(v int) flatmap.Publisher[string] {
//	    return flatmap.Just(strconv.Itoa(v))
//	}, flatmap.WithMaxConcurrency[string](16))
//	out.Subscribe(mySubscriber)
package flatmap
