package flatmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorMetricsDisabledCountersStayZero(t *testing.T) {
	var m operatorMetrics
	m.onDrainScheduled()
	m.onDrainExecuted()
	m.onEmit(5)
	m.onReplenish(3)
	m.onOverflow()
	m.onInnerStarted()
	m.onInnerTerminated()

	assert.Equal(t, Metrics{}, m.snapshot())
}

func TestOperatorMetricsEnabledCountersAccumulate(t *testing.T) {
	m := operatorMetrics{enabled: true}
	m.onDrainScheduled()
	m.onDrainScheduled()
	m.onDrainExecuted()
	m.onEmit(5)
	m.onEmit(2)
	m.onReplenish(3)
	m.onOverflow()
	m.onInnerStarted()
	m.onInnerStarted()
	m.onInnerTerminated()

	assert.Equal(t, Metrics{
		DrainsScheduled:  2,
		DrainsExecuted:   1,
		Emitted:          7,
		Replenished:      3,
		Overflows:        1,
		InnersStarted:    2,
		InnersTerminated: 1,
	}, m.snapshot())
}

// FlatMap's public surface returns a PublisherFunc closure, so an
// introspection accessor requires holding the *FlatMapMain directly, as a
// caller building its own operator instance would.
func TestFlatMapMainMetricsReflectEndToEndActivity(t *testing.T) {
	const n = 10
	upstream := Range(1, n)
	rec := &recorder[int]{}
	cfg, err := resolveOptions[int]([]Option[int]{WithMetrics[int](true)})
	require.NoError(t, err)
	m := &FlatMapMain[int, int]{
		downstream: rec,
		mapper: func(v int) Publisher[int] {
			return Range(v, 2)
		},
		cfg: cfg,
	}
	m.metricsD.enabled = cfg.metricsEnabled
	upstream.Subscribe(m)
	rec.Request(Unbounded)

	snap := m.Metrics()
	assert.True(t, rec.Completed())
	assert.Equal(t, int64(n), snap.InnersStarted)
	assert.Equal(t, int64(n), snap.InnersTerminated)
	assert.Equal(t, int64(2*n), snap.Emitted)
	assert.Greater(t, snap.DrainsExecuted, int64(0))
}
