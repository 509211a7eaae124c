package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/internal/base"
)

type fakeCache struct{ hits, misses uint64 }

func (f fakeCache) Hits() uint64   { return f.hits }
func (f fakeCache) Misses() uint64 { return f.misses }

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestCollectorFlushAndCompactionHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)
	listener := c.EventListener()

	listener.FlushEnd(base.FlushInfo{Input: 10})
	listener.FlushEnd(base.FlushInfo{Input: 5})
	require.Equal(t, 2.0, counterValue(t, c.flushesTotal))
	require.Equal(t, 15.0, counterValue(t, c.flushBytesTotal))

	listener.CompactionEnd(base.CompactionInfo{InputLevel: 0})
	require.Equal(t, 1.0, counterValue(t, c.compactionsTotal.WithLabelValues("0")))

	listener.WALSynced()
	listener.WALSynced()
	require.Equal(t, 2.0, counterValue(t, c.walSyncsTotal))
}

func TestCollectorCacheHitRatio(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, fakeCache{hits: 3, misses: 1})

	require.Equal(t, 0.75, counterValue(t, c.cacheHitRatio))
}

func TestCollectorNilCacheReportsZero(t *testing.T) {
	c := NewCollector(nil, nil)
	require.Equal(t, 0.0, counterValue(t, c.cacheHitRatio))
}
