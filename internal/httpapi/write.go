package httpapi

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

func WriteText(w http.ResponseWriter, status int, body string) {
	WriteBytes(w, status, "text/plain; charset=utf-8", []byte(body))
}

func WriteBytes(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func WriteError(w http.ResponseWriter, status int, e model.AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: e})
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".yaml":
		return "text/yaml; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
