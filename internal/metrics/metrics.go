// Package metrics exposes per-run pipeline counters. A nil *Pipeline is valid
// and records nothing, so stages never need to check for it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nodeprobe"

type Pipeline struct {
	parsed       prometheus.Counter
	rejected     *prometheus.CounterVec
	duplicates   prometheus.Counter
	probes       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	validations  *prometheus.CounterVec
	fetchFailure prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_parsed_total",
			Help:      "Node records produced by normalization.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Descriptors rejected during normalization, by code.",
		}, []string{"code"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_duplicate_total",
			Help:      "Records dropped by deduplication.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "TCP reachability probes, by protocol and result.",
		}, []string{"protocol", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Connect latency of reachable nodes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"protocol"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_in_flight",
			Help:      "Probe attempts currently dialing.",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Proxy validation attempts, by protocol and result.",
		}, []string{"protocol", "result"}),
		fetchFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_failures_total",
			Help:      "Sources that could not be fetched.",
		}),
	}
	for _, c := range []prometheus.Collector{
		p.parsed, p.rejected, p.duplicates, p.probes, p.latency, p.inFlight, p.validations, p.fetchFailure,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) Parsed(n int) {
	if p == nil {
		return
	}
	p.parsed.Add(float64(n))
}

func (p *Pipeline) Rejected(code string, n int) {
	if p == nil {
		return
	}
	p.rejected.WithLabelValues(code).Add(float64(n))
}

func (p *Pipeline) Duplicates(n int) {
	if p == nil {
		return
	}
	p.duplicates.Add(float64(n))
}

// ProbeDone records one finished probe. latencyMs is ignored when the node
// was unreachable.
func (p *Pipeline) ProbeDone(protocol string, reachable bool, latencyMs float64) {
	if p == nil {
		return
	}
	p.probes.WithLabelValues(protocol, result(reachable)).Inc()
	if reachable {
		p.latency.WithLabelValues(protocol).Observe(latencyMs / 1000)
	}
}

func (p *Pipeline) ProbeStarted() {
	if p == nil {
		return
	}
	p.inFlight.Inc()
}

func (p *Pipeline) ProbeFinished() {
	if p == nil {
		return
	}
	p.inFlight.Dec()
}

func (p *Pipeline) Validation(protocol string, ok bool) {
	if p == nil {
		return
	}
	p.validations.WithLabelValues(protocol, result(ok)).Inc()
}

func (p *Pipeline) FetchFailed() {
	if p == nil {
		return
	}
	p.fetchFailure.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
