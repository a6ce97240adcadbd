package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

const stage = "serve"

// APIError carries the HTTP status along with the shared error payload.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func errNotReady() error {
	return apiError(http.StatusServiceUnavailable, model.AppError{
		Code:    "NOT_READY",
		Message: "首轮探测尚未完成",
		Stage:   stage,
		Hint:    "retry after the first run finishes",
	}, nil)
}

func errNotFound(path string) error {
	return apiError(http.StatusNotFound, model.AppError{
		Code:    "NOT_FOUND",
		Message: "文件不存在",
		Stage:   stage,
		Snippet: path,
	}, nil)
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ae *APIError
	if errors.As(err, &ae) {
		WriteError(w, ae.Status, ae.AppError)
		return
	}

	// Fallback: internal bug.
	WriteError(w, http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	})
}
