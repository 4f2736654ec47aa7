package flatmap

import "golang.org/x/exp/constraints"

// clampMin returns v, raised to floor if it falls below it. Generalizes the
// pack's catrate ring-sizing clamps (ring.go sizes its buffer against a
// floor the same way) from a single concrete type to any ordered numeric
// type, which is what WithMaxConcurrency and WithPrefetch below use it for
// (int64 maxConcurrency, int prefetch).
func clampMin[T constraints.Ordered](v, floor T) T {
	if v < floor {
		return floor
	}
	return v
}

// config holds the resolved configuration for a flatMap operator instance,
// spec.md §3 FlatMapMain fields maxConcurrency/prefetch/delayError plus the
// ambient pluggables (queue suppliers, hooks, logger).
type config[R any] struct {
	maxConcurrency   int64
	prefetch         int
	delayErrors      bool
	errorContinue    bool
	onErrorContinue  func(err error, element any)
	scalarQueueMaker QueueSupplier[R]
	innerQueueMaker  QueueSupplier[R]
	droppedError     DroppedErrorHook
	droppedNext      DroppedNextHook
	logger           Logger
	metricsEnabled   bool
}

// Option configures a flatMap operator. Modeled on the teacher's
// LoopOption: an interface wrapping an apply function so options compose
// and nil options are tolerated by [resolveOptions].
type Option[R any] interface {
	apply(*config[R]) error
}

type optionFunc[R any] func(*config[R]) error

func (f optionFunc[R]) apply(c *config[R]) error { return f(c) }

// WithMaxConcurrency sets the maximum number of simultaneously-subscribed
// inner publishers. Must be >= 1; pass [Unbounded] for no limit.
func WithMaxConcurrency[R any](n int64) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.maxConcurrency = clampMin(n, 1)
		return nil
	})
}

// WithPrefetch sets the per-inner initial request size and replenish
// batch. Must be >= 1.
func WithPrefetch[R any](n int) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.prefetch = clampMin(n, 1)
		return nil
	})
}

// WithDelayErrors selects delayed terminal semantics: the drain loop keeps
// delivering buffered values from every inner and only surfaces the
// composed error once upstream and all inners have otherwise exhausted.
func WithDelayErrors[R any](enabled bool) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.delayErrors = enabled
		return nil
	})
}

// WithErrorContinue enables onErrorContinue fault tolerance: a mapper
// failure or scalar-inner failure with a known element is reported to fn
// and the element is dropped, requesting one replacement from upstream
// instead of failing the whole sequence (spec.md §4.6).
func WithErrorContinue[R any](fn func(err error, element any)) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.errorContinue = true
		c.onErrorContinue = fn
		return nil
	})
}

// WithScalarQueueSupplier overrides the factory used to create the main's
// scalar queue (spec.md §6 "mainQueueSupplier"), which must be MPSC-safe.
func WithScalarQueueSupplier[R any](s QueueSupplier[R]) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.scalarQueueMaker = s
		return nil
	})
}

// WithInnerQueueSupplier overrides the factory used to create each inner's
// buffer queue (spec.md §6 "innerQueueSupplier"), which must be SPSC-safe.
func WithInnerQueueSupplier[R any](s QueueSupplier[R]) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.innerQueueMaker = s
		return nil
	})
}

// WithDroppedErrorHook installs the hook invoked for errors that arrive
// after the error coordinator has already terminated (spec.md §3
// invariant 3).
func WithDroppedErrorHook[R any](hook DroppedErrorHook) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.droppedError = hook
		return nil
	})
}

// WithDroppedNextHook installs the hook invoked for values discarded on
// cancellation or after termination (spec.md invariant 8).
func WithDroppedNextHook[R any](hook DroppedNextHook) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.droppedNext = hook
		return nil
	})
}

// WithLogger attaches a structured [Logger] to this operator instance. The
// default is a no-op logger; see logging.go.
func WithLogger[R any](l Logger) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		if l != nil {
			c.logger = l
		}
		return nil
	})
}

// WithMetrics enables the optional atomic counters exposed via
// FlatMapMain.Metrics.
func WithMetrics[R any](enabled bool) Option[R] {
	return optionFunc[R](func(c *config[R]) error {
		c.metricsEnabled = enabled
		return nil
	})
}

// resolveOptions applies opts over the documented defaults: maxConcurrency
// unbounded, prefetch 128, immediate-error mode, no error-continue,
// default bounded/unbounded queue suppliers selected by maxConcurrency,
// no-op hooks and logger.
func resolveOptions[R any](opts []Option[R]) (*config[R], error) {
	c := &config[R]{
		maxConcurrency: Unbounded,
		prefetch:       128,
		logger:         noopLogger{},
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o.apply(c); err != nil {
			return nil, err
		}
	}
	if c.innerQueueMaker == nil {
		c.innerQueueMaker = DefaultBoundedQueueSupplier[R]()
	}
	if c.scalarQueueMaker == nil {
		if c.maxConcurrency == Unbounded {
			c.scalarQueueMaker = DefaultUnboundedQueueSupplier[R]()
		} else {
			c.scalarQueueMaker = DefaultBoundedQueueSupplier[R]()
		}
	}
	return c, nil
}
