package probe

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/logging"
	"github.com/John-Robertt/nodeprobe/internal/model"
)

// Validator checks whether a socks4/socks5/http node relays a TCP connection
// to a fixed target. Other protocols are never validated.
type Validator struct {
	target      string
	timeout     time.Duration
	concurrency int64
	httpConnect bool
	settings
}

// NewValidator returns a validator for cfg. Zero values take the defaults
// (www.google.com:80, 4s, 100 at once).
//
// By default an http node only passes if the target is directly reachable
// from this host; the check says nothing about the node itself. Set
// cfg.HTTPConnect to tunnel through the node with CONNECT instead.
func NewValidator(cfg config.Validate, opts ...Option) *Validator {
	def := config.Default().Validation
	if cfg.Target == "" {
		cfg.Target = def.Target
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Validator{
		target:      cfg.Target,
		timeout:     cfg.Timeout,
		concurrency: int64(cfg.Concurrency),
		httpConnect: cfg.HTTPConnect,
		settings:    newSettings(opts),
	}
}

// Validate reports whether rec can reach the target. It never returns an
// error; any failure is false.
func (v *Validator) Validate(ctx context.Context, rec model.NodeRecord) bool {
	ok := v.validate(ctx, rec)
	if rec.Protocol.IsProxyFamily() {
		v.metrics.Validation(string(rec.Protocol), ok)
	}
	return ok
}

func (v *Validator) validate(ctx context.Context, rec model.NodeRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	forward := forwardDialer{d: v.dialer}
	var d proxy.Dialer
	switch rec.Protocol {
	case model.ProtoSOCKS5, model.ProtoSOCKS4:
		pd, err := proxy.FromURL(&url.URL{Scheme: string(rec.Protocol), Host: rec.Address()}, forward)
		if err != nil {
			return false
		}
		d = pd
	case model.ProtoHTTP:
		if !v.httpConnect {
			d = forward
			break
		}
		pd, err := proxy.FromURL(&url.URL{Scheme: "http", Host: rec.Address()}, forward)
		if err != nil {
			return false
		}
		d = pd
	default:
		return false
	}

	conn, err := dialVia(ctx, d, "tcp", v.target)
	if err != nil {
		v.log.WithFields(logrus.Fields{
			"node":  rec.DisplayName(),
			"error": err,
		}).Debug("代理验证失败")
		return false
	}
	_ = conn.Close()
	return true
}

// ValidateAll validates every reachable socks4/socks5/http result, at most
// the configured number at once. Results are returned in input order; entries
// that were not eligible are passed through unchanged.
func (v *Validator) ValidateAll(ctx context.Context, results []model.ProbeResult) []model.ProbeResult {
	out := make([]model.ProbeResult, len(results))
	copy(out, results)

	sem := semaphore.NewWeighted(v.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	passed, checked := 0, 0
	for i, r := range results {
		if !r.Reachable || !r.Record.Protocol.IsProxyFamily() {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = r.WithValidation(false)
			continue
		}
		wg.Add(1)
		go func(i int, r model.ProbeResult) {
			defer wg.Done()
			defer sem.Release(1)
			ok := v.Validate(ctx, r.Record)
			mu.Lock()
			out[i] = r.WithValidation(ok)
			checked++
			if ok {
				passed++
			}
			mu.Unlock()
		}(i, r)
	}
	wg.Wait()

	logging.Stage(v.log, "validate").WithFields(logrus.Fields{
		"checked": checked,
		"passed":  passed,
		"target":  v.target,
	}).Info("代理验证完成")
	return out
}
