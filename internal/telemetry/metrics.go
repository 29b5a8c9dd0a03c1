package telemetry

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickflow"

// PipelineMetrics exports pipeline runner events as Prometheus collectors.
// It satisfies pipeline.Observer.
type PipelineMetrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	enqueued      *prometheus.CounterVec
	channelDepth  prometheus.Gauge
	batchSize     prometheus.Histogram
	flushDuration prometheus.Histogram
	sinkRetries   prometheus.Counter
	reconnects    prometheus.Counter
	runnerExits   *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
	})
}

func newHistogram(name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

// NewPipelineMetrics builds the collectors. A nil registerer means
// prometheus.DefaultRegisterer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PipelineMetrics{
		registerer:    registerer,
		enqueued:      newCounterVec("messages_enqueued_total", "Messages accepted into the channel", []string{"kind"}),
		channelDepth:  newGauge("channel_depth", "Messages buffered between source and processor"),
		batchSize:     newHistogram("batch_size", "Messages per flushed batch", prometheus.ExponentialBuckets(1, 2, 12)),
		flushDuration: newHistogram("flush_duration_seconds", "Time spent writing a batch including retries", prometheus.DefBuckets),
		sinkRetries:   newCounter("sink_retries_total", "Failed sink writes that were retried"),
		reconnects:    newCounter("source_reconnects_total", "Source reconnect attempts"),
		runnerExits:   newCounterVec("runner_exits_total", "Runner terminations by outcome", []string{"runner", "outcome"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.enqueued,
		m.channelDepth,
		m.batchSize,
		m.flushDuration,
		m.sinkRetries,
		m.reconnects,
		m.runnerExits,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *PipelineMetrics) MessageEnqueued(kind string, depth int) {
	m.enqueued.WithLabelValues(kind).Inc()
	m.channelDepth.Set(float64(depth))
}

func (m *PipelineMetrics) BatchFlushed(size int, elapsed time.Duration) {
	m.batchSize.Observe(float64(size))
	m.flushDuration.Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) SinkRetried(int, error) {
	m.sinkRetries.Inc()
}

func (m *PipelineMetrics) SourceReconnecting(int, time.Duration, error) {
	m.reconnects.Inc()
}

func (m *PipelineMetrics) RunnerExited(runner string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runnerExits.WithLabelValues(runner, outcome).Inc()
}

// Expose serves /metrics from gatherer on addr in the background. The caller
// owns the returned server and shuts it down.
func Expose(addr string, gatherer prometheus.Gatherer) *http.Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
