package build

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hotovec/mails/internal/compiler"
)

// Metrics records build activity as Prometheus metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	taskDuration *prom.HistogramVec
	builds       *prom.CounterVec
	pageErrors   prom.Counter
	cacheHits    prom.CounterFunc
	cacheMisses  prom.CounterFunc

	mutex sync.RWMutex
	cache *compiler.Cache
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg gets a private registry.
func NewMetrics(reg prom.Registerer) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	m := &Metrics{
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "mails",
			Name:      "task_duration_seconds",
			Help:      "Duration of build tasks",
			Buckets:   prom.DefBuckets,
		}, []string{"task", "status"}),
		builds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "mails",
			Name:      "builds_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"pipeline", "status"}),
		pageErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: "mails",
			Name:      "page_errors_total",
			Help:      "Pages skipped because they failed to compile",
		}),
	}
	m.cacheHits = prom.NewCounterFunc(prom.CounterOpts{
		Namespace: "mails",
		Name:      "template_cache_hits_total",
		Help:      "Pages served from the document cache",
	}, func() float64 { return float64(m.cacheStats().Hits) })
	m.cacheMisses = prom.NewCounterFunc(prom.CounterOpts{
		Namespace: "mails",
		Name:      "template_cache_misses_total",
		Help:      "Pages rendered because they were not cached",
	}, func() float64 { return float64(m.cacheStats().Misses) })

	reg.MustRegister(m.taskDuration, m.builds, m.pageErrors, m.cacheHits, m.cacheMisses)
	return m
}

// TrackCache reports the hit and miss counters of cache.
func (m *Metrics) TrackCache(cache *compiler.Cache) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cache = cache
}

func (m *Metrics) cacheStats() compiler.CacheStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.cache == nil {
		return compiler.CacheStats{}
	}
	return m.cache.Stats()
}

// ObserveTask records one task result.
func (m *Metrics) ObserveTask(task string, status TaskStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(task, string(status)).Observe(d.Seconds())
}

// IncBuild records one pipeline run.
func (m *Metrics) IncBuild(pipeline string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.builds.WithLabelValues(pipeline, status).Inc()
}

// AddPageErrors counts skipped pages.
func (m *Metrics) AddPageErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pageErrors.Add(float64(n))
}
