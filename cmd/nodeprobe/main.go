package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/fetch"
	"github.com/John-Robertt/nodeprobe/internal/httpapi"
	"github.com/John-Robertt/nodeprobe/internal/logging"
	"github.com/John-Robertt/nodeprobe/internal/metrics"
	"github.com/John-Robertt/nodeprobe/internal/pipeline"
	"github.com/John-Robertt/nodeprobe/internal/render"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("nodeprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var sources stringList
	configPath := fs.String("config", "", "YAML 配置文件路径")
	fs.Var(&sources, "source", "来源 URL 或本地文件（可重复，追加到配置中的 sources）")
	outDir := fs.String("out", "", "输出目录")
	formats := fs.String("formats", "", "输出格式，逗号分隔：clash,base64,links")
	concurrency := fs.Int("concurrency", 0, "TCP 探测并发数")
	timeout := fs.Duration("timeout", 0, "单次 TCP 探测超时")
	capPerProto := fs.Int("cap", 0, "每个协议保留的节点数上限")
	validate := fs.Bool("validate", false, "对 socks/http 节点做代理可用性校验")
	httpConnect := fs.Bool("http-connect", false, "http 节点校验使用 CONNECT 隧道")
	dedupePolicy := fs.String("dedupe", "", "去重策略：keep_first | keep_last")
	logLevel := fs.String("log-level", "", "日志级别")
	logFormat := fs.String("log-format", "", "日志格式：text | json")
	metricsFile := fs.String("metrics-file", "", "Prometheus 文本格式指标输出文件")
	serveAddr := fs.String("serve", "", "常驻模式监听地址（host:port），定期重跑并通过 HTTP 提供最新结果")
	interval := fs.Duration("interval", 0, "常驻模式下两轮探测的间隔")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	// Flags override the file only when given explicitly.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = *outDir
		case "formats":
			cfg.Output.Formats = splitList(strings.ToLower(*formats))
		case "concurrency":
			cfg.Probe.Concurrency = *concurrency
		case "timeout":
			cfg.Probe.Timeout = *timeout
		case "cap":
			cfg.Rank.CapPerProtocol = *capPerProto
		case "validate":
			cfg.Validation.Enabled = *validate
		case "http-connect":
			cfg.Validation.HTTPConnect = *httpConnect
		case "dedupe":
			cfg.Dedupe.Policy = strings.ToLower(*dedupePolicy)
		case "log-level":
			cfg.Log.Level = strings.ToLower(*logLevel)
		case "log-format":
			cfg.Log.Format = strings.ToLower(*logFormat)
		case "metrics-file":
			cfg.Metrics.File = *metricsFile
		case "serve":
			cfg.Serve.Addr = *serveAddr
		case "interval":
			cfg.Serve.Interval = *interval
		}
	})
	cfg.Sources = append(cfg.Sources, sources...)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return errors.New("未配置任何来源：使用 -source 或配置文件中的 sources")
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, log: log, reg: reg, metrics: m}

	if cfg.Serve.Addr == "" {
		_, err := a.once(ctx)
		return err
	}
	return a.serve(ctx)
}

type app struct {
	cfg     config.Config
	log     *logrus.Logger
	reg     *prometheus.Registry
	metrics *metrics.Pipeline
}

// once fetches every source, runs the pipeline and writes the artifacts.
func (a *app) once(ctx context.Context) ([]render.Artifact, error) {
	cfg, log := a.cfg, a.log

	started := time.Now()
	docs, fetchErr := fetch.FetchAll(ctx, cfg.Sources, fetch.OptionsFrom(cfg.Fetch), log, a.metrics)
	if fetchErr != nil {
		log.WithField("failed", len(multierr.Errors(fetchErr))).Warn("部分来源拉取失败")
	}

	srcs := make([]pipeline.Source, 0, len(docs))
	for _, d := range docs {
		srcs = append(srcs, pipeline.Source{Name: d.Location, Text: d.Text})
	}
	rep := pipeline.Run(ctx, cfg, srcs, pipeline.WithLogger(log), pipeline.WithMetrics(a.metrics))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := render.Summary{
		Updated:      started.UTC().Format(time.RFC3339),
		Collected:    rep.Collected,
		Unique:       rep.Unique,
		Reachable:    rep.Reachable,
		Validated:    rep.ValidatedCount,
		AvgLatencyMs: rep.AvgLatencyMs,
		Rejected:     rep.Rejected,
	}
	arts, skipped := render.Build(rep.Sets, rep.Validated, sum, render.Options{
		Formats:       cfg.Output.Formats,
		TopSingles:    cfg.Rank.TopSingles,
		TopBundle:     cfg.Rank.TopBundle,
		WithValidated: cfg.Validation.Enabled,
	})
	if arts == nil && skipped != nil {
		return nil, skipped
	}
	for _, e := range multierr.Errors(skipped) {
		log.WithError(e).Debug("节点无法写入 Clash YAML，已跳过")
	}
	if err := render.WriteDir(cfg.Output.Dir, arts); err != nil {
		return nil, err
	}

	if cfg.Metrics.File != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.File, a.reg); err != nil {
			return nil, fmt.Errorf("写入指标文件失败: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"dir":       cfg.Output.Dir,
		"files":     len(arts),
		"reachable": rep.Reachable,
		"elapsed":   time.Since(started).Round(time.Millisecond).String(),
	}).Info("输出完成")
	return arts, nil
}

// serve repeats once every serve.interval and exposes the latest artifacts
// until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	store := httpapi.NewStore()
	h, err := httpapi.NewHandler(store, httpapi.Options{Registry: a.reg, Log: a.log})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.Serve.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.log.WithField("addr", a.cfg.Serve.Addr).Info("listening")
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	refresh := func() {
		arts, err := a.once(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.log.WithError(err).Error("本轮探测失败，保留上一轮结果")
			}
			return
		}
		store.Set(arts, time.Now())
	}
	refresh()

	ticker := time.NewTicker(a.cfg.Serve.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				a.log.WithError(err).Warn("graceful shutdown failed")
				_ = srv.Close()
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
