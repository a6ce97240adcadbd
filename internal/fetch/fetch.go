// Package fetch loads source text from http(s) URLs or local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/logging"
	"github.com/John-Robertt/nodeprobe/internal/metrics"
	"github.com/John-Robertt/nodeprobe/internal/model"
)

const stage = "fetch"

// userAgent mimics a browser; several paste sites refuse obvious bots.
const userAgent = "Mozilla/5.0 (compatible; nodeprobe)"

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5
	Concurrency  int           // FetchAll only; default 8

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// OptionsFrom converts the fetch section of the run config.
func OptionsFrom(c config.Fetch) Options {
	return Options{
		Timeout:      c.Timeout,
		MaxBytes:     c.MaxBytes,
		MaxRedirects: c.MaxRedirects,
		Concurrency:  c.Concurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 5 * 1024 * 1024
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	return o
}

type FetchError struct {
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func fetchError(code, message, location string, cause error) *FetchError {
	return &FetchError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			URL:     location,
		},
		Cause: cause,
	}
}

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// Document is the text loaded from one location.
type Document struct {
	Location string
	Text     string
}

// FetchAll loads every location, at most opt.Concurrency at once. Documents
// come back in input order; failed locations are left out and their errors
// combined into the returned error. A non-nil error therefore never means
// that nothing was loaded.
func FetchAll(ctx context.Context, locations []string, opt Options, log logrus.FieldLogger, m *metrics.Pipeline) ([]Document, error) {
	opt = opt.withDefaults()
	entry := logging.Stage(log, stage)

	texts := make([]string, len(locations))
	errs := make([]error, len(locations))

	var g errgroup.Group
	g.SetLimit(opt.Concurrency)
	for i, loc := range locations {
		g.Go(func() error {
			text, err := Fetch(ctx, loc, opt)
			if err != nil {
				errs[i] = err
				m.FetchFailed()
				entry.WithFields(logrus.Fields{"source": loc, "error": err}).Warn("拉取来源失败")
				return nil
			}
			texts[i] = text
			entry.WithFields(logrus.Fields{"source": loc, "bytes": len(text)}).Info("拉取来源完成")
			return nil
		})
	}
	_ = g.Wait()

	var docs []Document
	var combined error
	for i, loc := range locations {
		if errs[i] != nil {
			combined = multierr.Append(combined, errs[i])
			continue
		}
		docs = append(docs, Document{Location: loc, Text: texts[i]})
	}
	return docs, combined
}

// Fetch loads one location: http(s) URLs with GET, anything without a scheme
// (or with file://) from disk. Invalid UTF-8 sequences are dropped rather
// than rejected; source pages are frequently mis-encoded.
func Fetch(ctx context.Context, location string, opt Options) (string, error) {
	opt = opt.withDefaults()
	if opt.MaxBytes < 0 {
		return "", fetchError("INVALID_ARGUMENT", "响应大小上限必须大于 0", location, nil)
	}

	u, err := url.Parse(location)
	if err == nil && (u.Scheme == "" || u.Scheme == "file") {
		path := location
		if u.Scheme == "file" {
			path = u.Path
		}
		return readFile(path, location, opt.MaxBytes)
	}
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fetchError("INVALID_ARGUMENT", "仅允许 http/https URL 或本地文件", location, errors.Join(errInvalidURLOrScheme, err))
	}
	return fetchHTTP(ctx, location, opt)
}

func readFile(path, location string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fetchError("FETCH_FAILED", "读取本地文件失败", location, err)
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", fetchError("FETCH_FAILED", "读取本地文件失败", location, err)
	}
	if int64(len(body)) > maxBytes {
		return "", fetchError("TOO_LARGE", fmt.Sprintf("来源过大（>%d bytes）", maxBytes), location, nil)
	}
	return toText(body), nil
}

func fetchHTTP(ctx context.Context, rawURL string, opt Options) (string, error) {
	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: opt.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// len(via) is the number of requests already made.
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fetchError("INVALID_ARGUMENT", "请求 URL 不合法", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", fetchError("FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), rawURL, err)
		case errors.Is(err, errRedirectBadScheme):
			return "", fetchError("INVALID_ARGUMENT", "重定向目标仅允许 http/https", rawURL, err)
		case isTimeout(err):
			return "", fetchError("FETCH_TIMEOUT", "拉取远程资源超时", rawURL, err)
		default:
			return "", fetchError("FETCH_FAILED", "拉取远程资源失败", rawURL, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fetchError("FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), rawURL, nil)
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return "", fetchError("FETCH_TIMEOUT", "拉取远程资源超时", rawURL, err)
		}
		return "", fetchError("FETCH_FAILED", "读取上游响应失败", rawURL, err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return "", fetchError("TOO_LARGE", fmt.Sprintf("远程资源过大（>%d bytes）", opt.MaxBytes), rawURL, nil)
	}
	return toText(body), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func toText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
