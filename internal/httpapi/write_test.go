package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

func TestWriteError_JSONShapeAndHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusNotFound, model.AppError{
		Code:    "NOT_FOUND",
		Message: "文件不存在",
		Stage:   "serve",
		Snippet: "groups/ss/ss_batch_9.yaml",
	})

	if got, want := rr.Code, http.StatusNotFound; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	if got, want := rr.Header().Get("Content-Type"), "application/json; charset=utf-8"; got != want {
		t.Fatalf("Content-Type = %q, want %q", got, want)
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nbody=%q", err, rr.Body.String())
	}
	if resp.Error.Code != "NOT_FOUND" {
		t.Fatalf("code = %q, want %q", resp.Error.Code, "NOT_FOUND")
	}
	if resp.Error.Snippet != "groups/ss/ss_batch_9.yaml" {
		t.Fatalf("snippet = %q", resp.Error.Snippet)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"proxy.yaml", "text/yaml; charset=utf-8"},
		{"summary.json", "application/json; charset=utf-8"},
		{"sub", "text/plain; charset=utf-8"},
		{"singles/ss/ss_single_1.txt", "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		if got := contentType(tt.in); got != tt.want {
			t.Fatalf("contentType(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
