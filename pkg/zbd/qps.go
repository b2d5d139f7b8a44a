package zbd

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// QpsKind distinguishes the operation classes tracked by a
// QpsRecorder.
type QpsKind int

// Operation classes tracked by a QpsRecorder.
const (
	QpsRead QpsKind = iota
	QpsWrite
)

// QpsRecorder counts read and write operations over a sampling window.
// The IdleDetector clears the recorder, lets traffic accumulate for a
// short interval and reads the counts back to classify the device as
// idle or busy.
type QpsRecorder interface {
	// Clear starts a new sampling window.
	Clear()
	// Report adds n operations of the given kind to the current
	// window.
	Report(kind QpsKind, n uint64)
	// Now returns the number of operations of the given kind
	// observed in the current window.
	Now(kind QpsKind) uint64
}

type inMemoryQpsRecorder struct {
	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewInMemoryQpsRecorder creates a QpsRecorder that counts operations
// in plain atomic counters.
func NewInMemoryQpsRecorder() QpsRecorder {
	return &inMemoryQpsRecorder{}
}

func (r *inMemoryQpsRecorder) Clear() {
	r.reads.Store(0)
	r.writes.Store(0)
}

func (r *inMemoryQpsRecorder) Report(kind QpsKind, n uint64) {
	if kind == QpsRead {
		r.reads.Add(n)
	} else {
		r.writes.Add(n)
	}
}

func (r *inMemoryQpsRecorder) Now(kind QpsKind) uint64 {
	if kind == QpsRead {
		return r.reads.Load()
	}
	return r.writes.Load()
}

var (
	qpsRecorderPrometheusMetrics sync.Once

	qpsRecorderOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "qps_recorder_operations_total",
			Help:      "Number of read and write operations observed by the QPS recorder.",
		},
		[]string{"kind"})
)

type metricsQpsRecorder struct {
	base QpsRecorder

	reads  prometheus.Counter
	writes prometheus.Counter
}

// NewMetricsQpsRecorder creates a decorator for QpsRecorder that also
// exposes the observed operation counts as Prometheus metrics. Clear()
// only affects the sampling window of the underlying recorder; the
// Prometheus counters are cumulative.
func NewMetricsQpsRecorder(base QpsRecorder) QpsRecorder {
	qpsRecorderPrometheusMetrics.Do(func() {
		prometheus.MustRegister(qpsRecorderOperationsTotal)
	})

	return &metricsQpsRecorder{
		base:   base,
		reads:  qpsRecorderOperationsTotal.WithLabelValues("read"),
		writes: qpsRecorderOperationsTotal.WithLabelValues("write"),
	}
}

func (r *metricsQpsRecorder) Clear() {
	r.base.Clear()
}

func (r *metricsQpsRecorder) Report(kind QpsKind, n uint64) {
	if kind == QpsRead {
		r.reads.Add(float64(n))
	} else {
		r.writes.Add(float64(n))
	}
	r.base.Report(kind, n)
}

func (r *metricsQpsRecorder) Now(kind QpsKind) uint64 {
	return r.base.Now(kind)
}
