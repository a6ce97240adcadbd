// Package probe measures TCP reachability of node records and, for plain
// forward proxies, whether they relay traffic to a target.
package probe

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/logging"
	"github.com/John-Robertt/nodeprobe/internal/metrics"
	"github.com/John-Robertt/nodeprobe/internal/model"
)

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type settings struct {
	dialer  Dialer
	clock   clock.Clock
	log     logrus.FieldLogger
	metrics *metrics.Pipeline
}

type Option func(*settings)

// WithDialer replaces the direct dialer used for every outgoing connection.
func WithDialer(d Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// WithClock sets the clock used for latency measurement.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *settings) { s.log = l }
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(s *settings) { s.metrics = m }
}

func newSettings(opts []Option) settings {
	s := settings{}
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{}
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

type Prober struct {
	concurrency int
	timeout     time.Duration
	settings
}

// NewProber returns a prober running at most cfg.Concurrency connection
// attempts at once, each bounded by cfg.Timeout. Zero values take the
// defaults (400, 2s).
func NewProber(cfg config.Probe, opts ...Option) *Prober {
	def := config.Default().Probe
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Prober{
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		settings:    newSettings(opts),
	}
}

// Probe attempts one TCP connection per record and returns one result per
// input record, in completion order. Failures of any kind are reported as
// unreachable. Cancelling ctx makes outstanding attempts fail fast; Probe
// still returns a result for every record.
func (p *Prober) Probe(ctx context.Context, records []model.NodeRecord) []model.ProbeResult {
	if len(records) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(records) {
		workers = len(records)
	}

	jobs := make(chan model.NodeRecord)
	results := make(chan model.ProbeResult, workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for _, rec := range records {
			jobs <- rec
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for rec := range jobs {
				results <- p.probeOne(ctx, rec)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	out := make([]model.ProbeResult, 0, len(records))
	reachable := 0
	for r := range results {
		if r.Reachable {
			reachable++
		}
		out = append(out, r)
	}

	logging.Stage(p.log, "probe").WithFields(logrus.Fields{
		"total":     len(out),
		"reachable": reachable,
		"workers":   workers,
	}).Info("TCP 测速完成")
	return out
}

func (p *Prober) probeOne(ctx context.Context, rec model.NodeRecord) model.ProbeResult {
	p.metrics.ProbeStarted()
	defer p.metrics.ProbeFinished()

	res := model.ProbeResult{Record: rec}

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.clock.Now()
	conn, err := p.dialer.DialContext(dctx, "tcp", rec.Address())
	elapsed := p.clock.Since(start)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"node":  rec.DisplayName(),
			"error": err,
		}).Debug("节点不可达")
		p.metrics.ProbeDone(string(rec.Protocol), false, 0)
		return res
	}
	_ = conn.Close()

	res.Reachable = true
	res.LatencyMs = latencyMs(elapsed)
	p.metrics.ProbeDone(string(rec.Protocol), true, res.LatencyMs)
	return res
}

// latencyMs converts d to milliseconds rounded to 0.1ms.
func latencyMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}
