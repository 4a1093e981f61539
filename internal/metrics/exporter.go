package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gps2rest"

// Exporter
// ------------------------------------------------------------
// Metrics 의 atomic 카운터를 Prometheus 로 노출한다.
//   - 카운터는 CounterFunc/GaugeFunc 로 감싸 값을 복사하지 않는다
//   - 전송 지연, 노이즈 변위는 histogram 으로 따로 관측한다
//
// nil *Exporter 의 Observe* 는 아무것도 하지 않는다.
type Exporter struct {
	gatherer prometheus.Gatherer

	Latency      *prometheus.HistogramVec
	Displacement prometheus.Histogram
	QueueLength  prometheus.GaugeFunc
}

// NewExporter registers m's counters on reg. queueLen may be nil.
func NewExporter(reg *prometheus.Registry, m *Metrics, queueLen func() int) (*Exporter, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	for _, c := range m.counters() {
		v := c.value
		read := func() float64 { return float64(atomic.LoadInt64(v)) }

		var col prometheus.Collector
		if c.gauge {
			col = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: c.name, Help: c.help,
			}, read)
		} else {
			col = prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Name: c.name, Help: c.help,
			}, read)
		}
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	e := &Exporter{
		gatherer: reg,
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent on one delivery attempt, labeled by outcome kind.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		Displacement: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "privacy_displacement_meters",
			Help:      "Distance between the raw and the transformed coordinate.",
			Buckets:   []float64{0, 1, 10, 50, 100, 250, 500, 1000, 5000, 20000},
		}),
	}
	if err := reg.Register(e.Latency); err != nil {
		return nil, err
	}
	if err := reg.Register(e.Displacement); err != nil {
		return nil, err
	}

	if queueLen != nil {
		e.QueueLength = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_length",
			Help:      "Coordinates currently waiting in the offline queue.",
		}, func() float64 { return float64(queueLen()) })
		if err := reg.Register(e.QueueLength); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Exporter) ObserveLatency(outcome string, d time.Duration) {
	if e == nil {
		return
	}
	e.Latency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (e *Exporter) ObserveDisplacement(meters float64) {
	if e == nil {
		return
	}
	e.Displacement.Observe(meters)
}

// Handler exposes the registry for /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}
