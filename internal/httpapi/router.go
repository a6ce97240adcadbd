package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(store *Store, opt Options) *http.ServeMux {
	opt = opt.withDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", serveFile(store, "summary.json"))
	mux.HandleFunc("GET /sub", serveFile(store, "sub"))
	mux.HandleFunc("GET /clash", serveFile(store, "proxy.yaml"))
	mux.HandleFunc("GET /files/{path...}", func(w http.ResponseWriter, r *http.Request) {
		serveFile(store, r.PathValue("path"))(w, r)
	})
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

func serveFile(store *Store, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !store.Ready() {
			writeErrorFromErr(w, errNotReady())
			return
		}
		b, ok := store.Get(name)
		if !ok {
			writeErrorFromErr(w, errNotFound(name))
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Last-Modified", store.Updated().UTC().Format(http.TimeFormat))
		WriteBytes(w, http.StatusOK, contentType(name), b)
	}
}
