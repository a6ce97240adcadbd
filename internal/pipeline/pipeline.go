// Package pipeline wires the stages together: harvest every source, drop
// duplicates, probe, optionally validate, and rank.
package pipeline

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/logging"
	"github.com/John-Robertt/nodeprobe/internal/metrics"
	"github.com/John-Robertt/nodeprobe/internal/model"
	"github.com/John-Robertt/nodeprobe/internal/probe"
	"github.com/John-Robertt/nodeprobe/internal/rank"
	"github.com/John-Robertt/nodeprobe/internal/sub"
)

// Source is one already-fetched text blob. Name only appears in logs.
type Source struct {
	Name string
	Text string
}

type Report struct {
	// Sets holds the ranked reachable nodes per protocol.
	Sets map[model.Protocol]model.RankedSet
	// Validated is Sets filtered to nodes that passed proxy validation. It is
	// empty when validation is disabled.
	Validated map[model.Protocol]model.RankedSet

	Collected      int // records produced by normalization
	Unique         int // records left after deduplication
	Reachable      int // reachable records, before the per-protocol cap
	ValidatedCount int
	Rejected       map[string]int // rejected descriptors by ParseError code

	// AvgLatencyMs is the mean latency over every ranked entry, rounded to
	// 0.1ms; 0 when nothing is reachable.
	AvgLatencyMs float64
}

type options struct {
	log       logrus.FieldLogger
	metrics   *metrics.Pipeline
	probeOpts []probe.Option
}

type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbeOptions passes extra options to the prober and validator.
func WithProbeOptions(opts ...probe.Option) Option {
	return func(o *options) { o.probeOpts = append(o.probeOpts, opts...) }
}

// Run executes one batch over sources. It never fails: malformed input is
// counted in Report.Rejected and unreachable nodes are simply absent.
func Run(ctx context.Context, cfg config.Config, sources []Source, opts ...Option) Report {
	o := options{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	probeOpts := append([]probe.Option{probe.WithLogger(o.log), probe.WithMetrics(o.metrics)}, o.probeOpts...)

	rep := Report{Rejected: make(map[string]int)}

	records := harvest(sources, &rep, o)

	unique := DedupeWith(records, ParsePolicy(cfg.Dedupe.Policy))
	rep.Unique = len(unique)
	o.metrics.Duplicates(len(records) - len(unique))
	logging.Stage(o.log, "dedupe").WithFields(logrus.Fields{
		"in":     len(records),
		"unique": len(unique),
		"policy": cfg.Dedupe.Policy,
	}).Info("去重完成")

	results := probe.NewProber(cfg.Probe, probeOpts...).Probe(ctx, unique)
	for _, r := range results {
		if r.Reachable {
			rep.Reachable++
		}
	}

	if cfg.Validation.Enabled {
		results = probe.NewValidator(cfg.Validation, probeOpts...).ValidateAll(ctx, results)
	}

	rep.Sets = rank.Rank(results, cfg.Rank.CapPerProtocol)
	rep.Validated = rank.ValidatedSets(rep.Sets)
	for _, s := range rep.Validated {
		rep.ValidatedCount += s.Len()
	}
	rep.AvgLatencyMs = avgLatency(rank.Flatten(rep.Sets))

	logging.Stage(o.log, "rank").WithFields(logrus.Fields{
		"collected":   rep.Collected,
		"unique":      rep.Unique,
		"reachable":   rep.Reachable,
		"validated":   rep.ValidatedCount,
		"avg_latency": rep.AvgLatencyMs,
		"protocols":   protocolCounts(rep.Sets),
	}).Info("流水线完成")
	return rep
}

func harvest(sources []Source, rep *Report, o options) []model.NodeRecord {
	var out []model.NodeRecord
	for _, src := range sources {
		h := sub.Harvest(src.Text)
		out = append(out, h.Records...)

		for code, n := range h.Rejected {
			rep.Rejected[code] += n
			o.metrics.Rejected(code, n)
		}
		for _, err := range h.Errors {
			o.log.WithFields(logrus.Fields{
				"stage":  "normalize",
				"source": src.Name,
				"code":   sub.ErrorCode(err),
			}).Debug(err.Error())
		}
		logging.Stage(o.log, "normalize").WithFields(logrus.Fields{
			"source":     src.Name,
			"candidates": h.Candidates,
			"records":    len(h.Records),
			"rejected":   len(h.Errors),
		}).Info("解析来源完成")
	}
	rep.Collected = len(out)
	o.metrics.Parsed(len(out))
	return out
}

func avgLatency(entries []model.ProbeResult) float64 {
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += e.LatencyMs
	}
	return math.Round(sum/float64(len(entries))*10) / 10
}

func protocolCounts(sets map[model.Protocol]model.RankedSet) map[string]int {
	out := make(map[string]int, len(sets))
	for p, s := range sets {
		out[string(p)] = s.Len()
	}
	return out
}
