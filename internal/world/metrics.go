package world

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics содержит Prometheus-метрики гибридного хранилища.
// Нулевой указатель допустим: все методы на nil ничего не делают.
type Metrics struct {
	reads         prometheus.Counter
	writes        *prometheus.CounterVec
	flushes       prometheus.Counter
	flushErrors   prometheus.Counter
	flushDuration prometheus.Histogram
	chunks        prometheus.Gauge
	overflow      prometheus.Gauge
	buffers       prometheus.Gauge
}

// Уровни хранения для метки tier
const (
	tierDense    = "dense"
	tierOverflow = "overflow"
	tierClear    = "clear"
)

// NewMetrics создаёт метрики и регистрирует их в reg.
// При reg == nil метрики создаются, но не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelstore",
			Name:      "block_reads_total",
			Help:      "Общее число чтений состояния блока.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxelstore",
			Name:      "block_writes_total",
			Help:      "Записи состояния блока по уровню хранения.",
		}, []string{"tier"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelstore",
			Name:      "flushes_total",
			Help:      "Число вызовов Flush.",
		}),
		flushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelstore",
			Name:      "flush_errors_total",
			Help:      "Число неудачных сбросов в хранилище.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxelstore",
			Name:      "flush_duration_seconds",
			Help:      "Длительность Flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		chunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelstore",
			Name:      "chunks_loaded",
			Help:      "Количество плотных чанков в памяти.",
		}),
		overflow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelstore",
			Name:      "overflow_entries",
			Help:      "Количество записей в карте переполнения.",
		}),
		buffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelstore",
			Name:      "block_buffers",
			Help:      "Количество вспомогательных буферов.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.reads, m.writes, m.flushes, m.flushErrors, m.flushDuration,
			m.chunks, m.overflow, m.buffers)
	}
	return m
}

func (m *Metrics) observeRead() {
	if m == nil {
		return
	}
	m.reads.Inc()
}

func (m *Metrics) observeWrite(tier string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(tier).Inc()
}

func (m *Metrics) observeFlush(start time.Time, err error) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.flushErrors.Inc()
	}
}

func (m *Metrics) setSizes(s Stats) {
	if m == nil {
		return
	}
	m.chunks.Set(float64(s.Chunks))
	m.overflow.Set(float64(s.OverflowEntries))
	m.buffers.Set(float64(s.Buffers))
}
