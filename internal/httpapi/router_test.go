package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/nodeprobe/internal/model"
	"github.com/John-Robertt/nodeprobe/internal/render"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body=%q", rr.Body.String())
	return resp.Error.Code
}

func TestMux_NotReady(t *testing.T) {
	mux := NewMux(NewStore(), Options{})

	rr := get(t, mux, "/sub")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "NOT_READY", errorCode(t, rr))

	rr = get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestMux_ServesLatestRun(t *testing.T) {
	store := NewStore()
	mux := NewMux(store, Options{})

	store.Set([]render.Artifact{
		{Path: "sub", Content: []byte("c29ja3M1Oi8vMS4yLjMuNDoxMDgw")},
		{Path: "proxy.yaml", Content: []byte("proxies: []\n")},
		{Path: "summary.json", Content: []byte(`{"reachable":0}`)},
		{Path: "groups/ss/ss_batch_1.yaml", Content: []byte("proxies: []\n")},
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	rr := get(t, mux, "/sub")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "c29ja3M1Oi8vMS4yLjMuNDoxMDgw", rr.Body.String())
	assert.Equal(t, "Fri, 02 Jan 2026 03:04:05 GMT", rr.Header().Get("Last-Modified"))

	rr = get(t, mux, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = get(t, mux, "/clash")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/yaml; charset=utf-8", rr.Header().Get("Content-Type"))

	rr = get(t, mux, "/files/groups/ss/ss_batch_1.yaml")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(t, mux, "/files/groups/ss/ss_batch_2.yaml")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rr))

	// A later run replaces everything.
	store.Set([]render.Artifact{{Path: "summary.json", Content: []byte(`{}`)}}, time.Now())
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/sub").Code)
}

func TestHandler_RequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := NewHandler(NewStore(), Options{Registry: reg})
	require.NoError(t, err)

	get(t, h, "/healthz")
	get(t, h, "/sub")

	rr := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `nodeprobe_http_requests_total{pattern="GET /healthz",status="200"} 1`), body)
	assert.True(t, strings.Contains(body, `nodeprobe_http_requests_total{pattern="GET /sub",status="503"} 1`), body)

	// Registering twice on one registry fails.
	_, err = NewHandler(NewStore(), Options{Registry: reg})
	assert.Error(t, err)
}
