package flatmap

// FlatMap merges, into a single [Publisher][R], the inner publishers
// produced by applying mapper to every value upstream emits — the
// reactive-streams flatMap operator of spec.md §1/§2. maxConcurrency,
// prefetch, delay-error semantics, onErrorContinue, queue suppliers,
// hooks, logging, and metrics are all configured via opts; see the WithXxx
// functions in options.go for the full surface and their defaults.
//
// FlatMap is lazy: no subscription to upstream happens until the returned
// Publisher is itself subscribed, and a fresh FlatMapMain is created per
// subscription (spec.md §3 "Lifecycle").
func FlatMap[T, R any](upstream Publisher[T], mapper func(T) Publisher[R], opts ...Option[R]) Publisher[R] {
	return PublisherFunc[R](func(downstream Subscriber[R]) {
		cfg, err := resolveOptions(opts)
		if err != nil {
			downstream.OnSubscribe(noopSubscription{})
			downstream.OnError(err)
			return
		}
		m := &FlatMapMain[T, R]{
			downstream: downstream,
			mapper:     mapper,
			cfg:        cfg,
		}
		m.errs.dropped = cfg.droppedError
		m.metricsD.enabled = cfg.metricsEnabled
		upstream.Subscribe(m)
	})
}

// noopSubscription is handed to a downstream that must be told OnSubscribe
// happened even though option resolution already failed and no real
// upstream subscription will ever exist.
type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}
