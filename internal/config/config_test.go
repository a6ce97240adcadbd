package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 400, c.Probe.Concurrency)
	assert.Equal(t, 2*time.Second, c.Probe.Timeout)
	assert.Equal(t, "www.google.com:80", c.Validation.Target)
	assert.Equal(t, 4*time.Second, c.Validation.Timeout)
	assert.False(t, c.Validation.Enabled)
	assert.Equal(t, 2000, c.Rank.CapPerProtocol)
	assert.Equal(t, 3, c.Rank.TopSingles)
	assert.Equal(t, 5, c.Rank.TopBundle)
	assert.Equal(t, PolicyKeepFirst, c.Dedupe.Policy)
	assert.Equal(t, []string{FormatClash, FormatBase64, FormatLinks}, c.Output.Formats)
	assert.Empty(t, c.Serve.Addr)
	assert.Equal(t, time.Hour, c.Serve.Interval)
	require.NoError(t, c.Validate())
}

func TestParse_OverridesAndDurations(t *testing.T) {
	c, err := Parse("cfg.yaml", `
sources:
  - https://example.com/sub.txt
  - ./local.txt
probe:
  concurrency: 50
  timeout: 750ms
validate:
  enabled: true
  target: example.org:443
  http_connect: true
dedupe:
  policy: KEEP_LAST
output:
  formats: [Clash]
log:
  level: DEBUG
  format: json
serve:
  addr: 127.0.0.1:8080
  interval: 30m
`)
	require.NoError(t, err)
	assert.Len(t, c.Sources, 2)
	assert.Equal(t, 50, c.Probe.Concurrency)
	assert.Equal(t, 750*time.Millisecond, c.Probe.Timeout)
	assert.True(t, c.Validation.Enabled)
	assert.True(t, c.Validation.HTTPConnect)
	assert.Equal(t, "example.org:443", c.Validation.Target)
	assert.Equal(t, PolicyKeepLast, c.Dedupe.Policy)
	assert.True(t, c.Output.Has(FormatClash))
	assert.False(t, c.Output.Has(FormatLinks))
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "127.0.0.1:8080", c.Serve.Addr)
	assert.Equal(t, 30*time.Minute, c.Serve.Interval)
	assert.Equal(t, 2000, c.Rank.CapPerProtocol)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
	}{
		{"unknown field", "probe:\n  workers: 3\n", "CONFIG_PARSE_ERROR"},
		{"multi document", "probe:\n  concurrency: 1\n---\nprobe:\n  concurrency: 2\n", "CONFIG_PARSE_ERROR"},
		{"bad duration", "probe:\n  timeout: soon\n", "CONFIG_PARSE_ERROR"},
		{"negative concurrency", "probe:\n  concurrency: -1\n", "CONFIG_VALIDATE_ERROR"},
		{"bad policy", "dedupe:\n  policy: newest\n", "CONFIG_VALIDATE_ERROR"},
		{"bad target", "validate:\n  target: google\n", "CONFIG_VALIDATE_ERROR"},
		{"bad format", "output:\n  formats: [surge]\n", "CONFIG_VALIDATE_ERROR"},
		{"empty source", "sources: ['']\n", "CONFIG_VALIDATE_ERROR"},
		{"short interval", "serve:\n  addr: 127.0.0.1:8080\n  interval: 10s\n", "CONFIG_VALIDATE_ERROR"},
		{"bad serve addr", "serve:\n  addr: localhost\n", "CONFIG_VALIDATE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("cfg.yaml", tt.content)
			require.Error(t, err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.code, ce.AppError.Code)
			assert.Equal(t, "cfg.yaml", ce.AppError.URL)
		})
	}
}

func TestParse_IntervalIgnoredWithoutServeAddr(t *testing.T) {
	c, err := Parse("cfg.yaml", "serve:\n  interval: 30s\n")
	require.NoError(t, err)
	assert.Empty(t, c.Serve.Addr)
	assert.Equal(t, 30*time.Second, c.Serve.Interval)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nodeprobe.yaml")
	require.NoError(t, os.WriteFile(p, []byte("rank:\n  cap_per_protocol: 10\n"), 0o644))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Rank.CapPerProtocol)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "CONFIG_READ_ERROR", ce.AppError.Code)
}
