package build

import (
	stderrors "errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotovec/mails/internal/compiler"
)

// histogramCount returns the sample count of mails_task_duration_seconds
// for task and status.
func histogramCount(t *testing.T, reg *prom.Registry, task string, status TaskStatus) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "mails_task_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["task"] == task && labels["status"] == string(status) {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TrackCache(compiler.NewCache())
		m.ObserveTask("a", StatusSucceeded, time.Second)
		m.IncBuild("build", nil)
		m.AddPageErrors(3)
	})
}

func TestMetricsCounters(t *testing.T) {
	reg := prom.NewRegistry()
	m := NewMetrics(reg)

	m.IncBuild("build", nil)
	m.IncBuild("build", nil)
	m.IncBuild("serve", stderrors.New("x"))
	m.AddPageErrors(2)
	m.AddPageErrors(0)
	m.ObserveTask("inline", StatusSucceeded, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.builds.WithLabelValues("build", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("serve", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pageErrors))
	assert.Equal(t, uint64(1), histogramCount(t, reg, "inline", StatusSucceeded))
}

func TestMetricsTrackCache(t *testing.T) {
	m := NewMetrics(prom.NewRegistry())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.cacheHits), "untracked cache reads as zero")

	cache := compiler.NewCache()
	m.TrackCache(cache)
	assert.Equal(t, float64(cache.Stats().Hits), testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, float64(cache.Stats().Misses), testutil.ToFloat64(m.cacheMisses))
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	reg := prom.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration is a programming error")
}
