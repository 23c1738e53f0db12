package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus 基于 client_golang 的 Collector 实现
type Prometheus struct {
	writes        *prometheus.CounterVec
	writeLatency  *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	selfServe     *prometheus.CounterVec
	indexFailures *prometheus.CounterVec
	pending       prometheus.Gauge
	reconciled    *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus 创建并注册全部指标；reg 为 nil 时使用默认注册表
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gtc"
	}

	p := &Prometheus{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conditional_writes_total",
			Help:      "Conditional writes by strategy and outcome (ok, conflict, error).",
		}, []string{"strategy", "outcome"}),
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conditional_write_seconds",
			Help:      "Latency of conditional writes in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"strategy"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transient_retries_total",
			Help:      "Retries caused by transient store failures.",
		}, []string{"op"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "conflicts_total",
			Help:      "Classified write conflicts by kind.",
		}, []string{"kind"}),
		selfServe: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "self_serve_items_total",
			Help:      "Self-serve items by result (requested, claimed, collision).",
		}, []string{"result"}),
		indexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "write_failures_total",
			Help:      "Assignment index writes that failed and were queued for compensation.",
		}, []string{"op"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "pending_compensations",
			Help:      "Compensating index actions waiting for retry.",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reconciled_records_total",
			Help:      "Index records changed by the cleanup pass (removed, created, refreshed).",
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{
		p.writes, p.writeLatency, p.retries, p.conflicts,
		p.selfServe, p.indexFailures, p.pending, p.reconciled,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordWrite(strategy, outcome string, d time.Duration) {
	p.writes.WithLabelValues(strategy, outcome).Inc()
	p.writeLatency.WithLabelValues(strategy).Observe(d.Seconds())
}

func (p *Prometheus) RecordRetry(op string) {
	p.retries.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordConflict(kind string) {
	p.conflicts.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordSelfServe(requested, claimed, collisions int) {
	p.selfServe.WithLabelValues("requested").Add(float64(requested))
	p.selfServe.WithLabelValues("claimed").Add(float64(claimed))
	p.selfServe.WithLabelValues("collision").Add(float64(collisions))
}

func (p *Prometheus) RecordIndexFailure(op string) {
	p.indexFailures.WithLabelValues(op).Inc()
}

func (p *Prometheus) SetPendingCompensations(n int) {
	p.pending.Set(float64(n))
}

func (p *Prometheus) RecordReconcile(removed, created, refreshed int) {
	p.reconciled.WithLabelValues("removed").Add(float64(removed))
	p.reconciled.WithLabelValues("created").Add(float64(created))
	p.reconciled.WithLabelValues("refreshed").Add(float64(refreshed))
}
