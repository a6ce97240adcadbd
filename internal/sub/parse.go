// Package sub turns raw node descriptors harvested from subscription text into
// canonical model.NodeRecord values and back.
package sub

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

const stage = "normalize"

// Rejection codes carried in ParseError.AppError.Code.
const (
	CodeUnsupportedScheme = "NODE_UNSUPPORTED_SCHEME"
	CodeDecode            = "NODE_DECODE_ERROR"
	CodeMissingField      = "NODE_MISSING_FIELD"
	CodeBadAddress        = "NODE_BAD_ADDRESS"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Code returns the rejection code, or "" for a nil error.
func (e *ParseError) Code() string {
	if e == nil {
		return ""
	}
	return e.AppError.Code
}

// ErrorCode extracts the rejection code from any error returned by this
// package. Errors of other types map to CodeDecode.
func ErrorCode(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	return CodeDecode
}

// ParserFunc parses the part of a URI that follows "<scheme>://".
type ParserFunc func(body string) (model.NodeRecord, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ParserFunc)
)

// Register binds a scheme (without "://", case-insensitive) to its parser.
// Registering an existing scheme replaces the previous parser.
func Register(scheme string, fn ParserFunc) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || fn == nil {
		panic("sub: Register with empty scheme or nil parser")
	}
	registryMu.Lock()
	registry[scheme] = fn
	registryMu.Unlock()
}

// Schemes lists registered schemes in sorted order.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lookup(scheme string) (ParserFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[strings.ToLower(scheme)]
	return fn, ok
}

func init() {
	Register("ss", parseSS)
	Register("sip002", parseSIP002)
	Register("ssr", parseSSR)
	Register("vmess", parseVMess)
	Register("trojan", parseTrojan)
	Register("vless", parseVLESS)
	Register("socks5", endpointParser(model.ProtoSOCKS5))
	Register("socks4", endpointParser(model.ProtoSOCKS4))
	Register("http", endpointParser(model.ProtoHTTP))
}

// bareCandidates is the protocol order used for endpoints without a scheme.
var bareCandidates = []model.Protocol{model.ProtoSOCKS5, model.ProtoSOCKS4, model.ProtoHTTP}

// Normalize parses one raw descriptor. A scheme URI yields exactly one record;
// a bare host:port yields one candidate per plain proxy protocol because the
// sources never say which one it speaks. Failures are returned as *ParseError
// and never panic.
func Normalize(raw string) (out []model.NodeRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = newParseError(raw, CodeDecode, "节点解析异常", fmt.Errorf("panic: %v", r))
		}
	}()

	s := strings.TrimSpace(stripUTF8BOM(raw))
	if s == "" {
		return nil, newParseError(raw, CodeMissingField, "节点内容为空", nil)
	}

	if strings.Contains(s, "://") {
		rec, err := normalizeURI(s)
		if err != nil {
			return nil, withSnippet(err, raw)
		}
		return []model.NodeRecord{rec}, nil
	}

	host, port, err := parseHostPort(s)
	if err != nil {
		return nil, newParseError(raw, CodeUnsupportedScheme, "无法识别的节点格式", err)
	}
	out = make([]model.NodeRecord, 0, len(bareCandidates))
	for _, p := range bareCandidates {
		out = append(out, model.NodeRecord{Protocol: p, Host: host, Port: port})
	}
	return out, nil
}

// NormalizeURI is Normalize restricted to scheme URIs.
func NormalizeURI(raw string) (model.NodeRecord, error) {
	recs, err := Normalize(raw)
	if err != nil {
		return model.NodeRecord{}, err
	}
	if len(recs) != 1 {
		return model.NodeRecord{}, newParseError(raw, CodeUnsupportedScheme, "缺少协议前缀", nil)
	}
	return recs[0], nil
}

func normalizeURI(s string) (model.NodeRecord, error) {
	scheme, body, _ := strings.Cut(s, "://")
	fn, ok := lookup(scheme)
	if !ok {
		return model.NodeRecord{}, newParseError("", CodeUnsupportedScheme, fmt.Sprintf("不支持的协议：%s", scheme), nil)
	}
	rec, err := fn(body)
	if err != nil {
		return model.NodeRecord{}, err
	}
	return canonicalize(rec), nil
}

// canonicalize makes equal nodes compare equal regardless of the source
// spelling: lower-case host, trimmed name, and no name when it matches the
// default display name.
func canonicalize(r model.NodeRecord) model.NodeRecord {
	r.Host = strings.ToLower(strings.TrimSpace(r.Host))
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == r.DefaultName() {
		r.Name = ""
	}
	return r
}

func parseHostPort(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	if strings.ContainsAny(host, " \t\r\n\x00/@?#") {
		return "", 0, errors.New("host contains forbidden characters")
	}
	portInt, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if portInt < 1 || portInt > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return strings.ToLower(host), portInt, nil
}

func addressError(err error) error {
	return newParseError("", CodeBadAddress, "服务器地址或端口不合法", err)
}

// decodeName percent-decodes a fragment/remark; undecodable input is kept raw.
func decodeName(s string) string {
	if s == "" {
		return ""
	}
	if d, err := url.PathUnescape(s); err == nil {
		s = d
	}
	return sanitizeName(s)
}

func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "\r\n\x00") || !utf8.ValidString(s) {
		return ""
	}
	return s
}

// parseQueryKV splits a raw query on '&' keeping order. Unlike url.ParseQuery
// it tolerates ';' inside values (SIP002 plugin options use it).
func parseQueryKV(query string) []model.KV {
	if query == "" {
		return nil
	}
	out := make([]model.KV, 0, 4)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(kRaw)
		if err != nil {
			k = kRaw
		}
		v, err := url.QueryUnescape(vRaw)
		if err != nil {
			v = vRaw
		}
		if k = strings.TrimSpace(k); k == "" {
			continue
		}
		out = append(out, model.KV{Key: k, Value: v})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func decodeB64ToString(s string) (string, error) {
	b, err := decodeB64ToBytes(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("decoded content is not valid utf-8")
	}
	return string(b), nil
}

func decodeB64ToBytes(s string) ([]byte, error) {
	s = removeSpaceTabCRLF(s)
	if s == "" {
		return nil, errors.New("empty base64 input")
	}
	// Padded forms first, then raw (no padding); both alphabets.
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	// Sources often pad incorrectly; strip and retry without padding.
	trimmed := strings.TrimRight(s, "=")
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(trimmed); err == nil {
			return b, nil
		}
	}
	return nil, lastErr
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func newParseError(raw string, code string, message string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			Snippet: truncateSnippet(raw, 200),
		},
		Cause: cause,
	}
}

func withSnippet(err error, raw string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		if pe.AppError.Snippet == "" {
			pe.AppError.Snippet = truncateSnippet(raw, 200)
		}
		return pe
	}
	return newParseError(raw, CodeDecode, "节点解析失败", err)
}
