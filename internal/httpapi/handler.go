package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/nodeprobe/internal/logging"
)

type Options struct {
	// Registry receives the HTTP metrics and is exposed on /metrics; the
	// pipeline metrics should be registered on the same one.
	Registry *prometheus.Registry

	Log logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if o.Log == nil {
		o.Log = logging.Discard()
	}
	return o
}

// NewHandler returns the production handler (mux + observability middleware).
func NewHandler(store *Store, opt Options) (http.Handler, error) {
	opt = opt.withDefaults()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeprobe",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by ServeMux pattern and status.",
	}, []string{"pattern", "status"})
	if err := opt.Registry.Register(requests); err != nil {
		return nil, err
	}
	return withObservability(NewMux(store, opt), requests, logging.Stage(opt.Log, stage)), nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func withObservability(next http.Handler, requests *prometheus.CounterVec, log *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		pattern := r.Pattern
		if pattern == "" {
			pattern = "(unmatched)"
		}
		requests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()

		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			log.WithFields(logrus.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"pattern": pattern,
				"status":  status,
				"dur":     time.Since(start).Round(time.Millisecond).String(),
				"bytes":   sw.bytes,
			}).Info("http")
		}
	})
}
