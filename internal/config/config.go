// Package config holds the run configuration. A Config is a plain value: build
// it with Default or Load, adjust it, and pass it by value to the stages.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

const stage = "config"

const (
	PolicyKeepFirst = "keep_first"
	PolicyKeepLast  = "keep_last"
)

const (
	FormatClash  = "clash"
	FormatBase64 = "base64"
	FormatLinks  = "links"
)

type Config struct {
	// Sources are http(s) URLs or local file paths.
	Sources []string `yaml:"sources"`

	Probe      Probe    `yaml:"probe"`
	Validation Validate `yaml:"validate"`
	Rank       Rank     `yaml:"rank"`
	Dedupe     Dedupe   `yaml:"dedupe"`
	Fetch      Fetch    `yaml:"fetch"`
	Output     Output   `yaml:"output"`
	Log        Log      `yaml:"log"`
	Metrics    Metrics  `yaml:"metrics"`
	Serve      Serve    `yaml:"serve"`
}

type Probe struct {
	Concurrency int           `yaml:"concurrency"` // default 400
	Timeout     time.Duration `yaml:"timeout"`     // default 2s
}

type Validate struct {
	Enabled     bool          `yaml:"enabled"`
	Target      string        `yaml:"target"`      // default www.google.com:80
	Timeout     time.Duration `yaml:"timeout"`     // default 4s
	Concurrency int           `yaml:"concurrency"` // default 100

	// HTTPConnect makes the http check open a CONNECT tunnel through the
	// candidate instead of dialing the target directly.
	HTTPConnect bool `yaml:"http_connect"`
}

type Rank struct {
	CapPerProtocol int `yaml:"cap_per_protocol"` // default 2000
	TopSingles     int `yaml:"top_singles"`      // default 3
	TopBundle      int `yaml:"top_bundle"`       // default 5
}

type Dedupe struct {
	Policy string `yaml:"policy"` // keep_first | keep_last
}

type Fetch struct {
	Timeout      time.Duration `yaml:"timeout"`       // default 15s
	MaxBytes     int64         `yaml:"max_bytes"`     // default 5 MiB
	MaxRedirects int           `yaml:"max_redirects"` // default 5
	Concurrency  int           `yaml:"concurrency"`   // default 8
}

type Output struct {
	Dir     string   `yaml:"dir"`     // default "output"
	Formats []string `yaml:"formats"` // default all
}

type Log struct {
	Level  string `yaml:"level"`  // default info
	Format string `yaml:"format"` // text | json
}

type Metrics struct {
	// File, when set, receives the run's metrics in the Prometheus text format.
	File string `yaml:"file"`
}

// Serve keeps the process running: the pipeline repeats every Interval and
// the latest artifacts are served over HTTP on Addr.
type Serve struct {
	Addr     string        `yaml:"addr"`     // empty means run once and exit
	Interval time.Duration `yaml:"interval"` // default 1h
}

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Default returns a Config with every field at its default value.
func Default() Config {
	return Config{}.withDefaults()
}

// Load reads a YAML config file. Unknown keys and multi-document files are
// rejected. Missing values take their defaults and the result is validated.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{
			AppError: model.AppError{
				Code:    "CONFIG_READ_ERROR",
				Message: "读取配置文件失败",
				Stage:   stage,
				URL:     path,
			},
			Cause: err,
		}
	}
	return Parse(path, string(b))
}

// Parse decodes YAML content; name is only used in errors.
func Parse(name string, content string) (Config, error) {
	var c Config
	if strings.TrimSpace(content) != "" {
		if err := yamlDecodeStrict(content, &c); err != nil {
			return Config{}, &ConfigError{
				AppError: model.AppError{
					Code:    "CONFIG_PARSE_ERROR",
					Message: "配置 YAML 解析失败",
					Stage:   stage,
					URL:     name,
					Snippet: truncateSnippet(content, 200),
				},
				Cause: err,
			}
		}
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.AppError.URL = name
		}
		return Config{}, err
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	if c.Probe.Concurrency == 0 {
		c.Probe.Concurrency = 400
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 2 * time.Second
	}

	if strings.TrimSpace(c.Validation.Target) == "" {
		c.Validation.Target = "www.google.com:80"
	}
	if c.Validation.Timeout == 0 {
		c.Validation.Timeout = 4 * time.Second
	}
	if c.Validation.Concurrency == 0 {
		c.Validation.Concurrency = 100
	}

	if c.Rank.CapPerProtocol == 0 {
		c.Rank.CapPerProtocol = 2000
	}
	if c.Rank.TopSingles == 0 {
		c.Rank.TopSingles = 3
	}
	if c.Rank.TopBundle == 0 {
		c.Rank.TopBundle = 5
	}

	c.Dedupe.Policy = strings.ToLower(strings.TrimSpace(c.Dedupe.Policy))
	if c.Dedupe.Policy == "" {
		c.Dedupe.Policy = PolicyKeepFirst
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 15 * time.Second
	}
	if c.Fetch.MaxBytes == 0 {
		c.Fetch.MaxBytes = 5 * 1024 * 1024
	}
	if c.Fetch.MaxRedirects == 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = 8
	}

	if strings.TrimSpace(c.Output.Dir) == "" {
		c.Output.Dir = "output"
	}
	if len(c.Output.Formats) == 0 {
		c.Output.Formats = []string{FormatClash, FormatBase64, FormatLinks}
	} else {
		formats := make([]string, 0, len(c.Output.Formats))
		for _, f := range c.Output.Formats {
			formats = append(formats, strings.ToLower(strings.TrimSpace(f)))
		}
		c.Output.Formats = formats
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	c.Serve.Addr = strings.TrimSpace(c.Serve.Addr)
	if c.Serve.Interval == 0 {
		c.Serve.Interval = time.Hour
	}
	return c
}

// Validate checks value ranges. It expects defaults to have been applied.
func (c Config) Validate() error {
	switch {
	case c.Probe.Concurrency < 1:
		return validateError("probe.concurrency 必须 >= 1", nil)
	case c.Probe.Timeout <= 0:
		return validateError("probe.timeout 必须 > 0", nil)
	case c.Validation.Timeout <= 0:
		return validateError("validate.timeout 必须 > 0", nil)
	case c.Validation.Concurrency < 1:
		return validateError("validate.concurrency 必须 >= 1", nil)
	case c.Rank.CapPerProtocol < 1:
		return validateError("rank.cap_per_protocol 必须 >= 1", nil)
	case c.Rank.TopSingles < 1 || c.Rank.TopBundle < 1:
		return validateError("rank.top_singles/top_bundle 必须 >= 1", nil)
	case c.Fetch.Timeout <= 0:
		return validateError("fetch.timeout 必须 > 0", nil)
	case c.Fetch.MaxBytes <= 0:
		return validateError("fetch.max_bytes 必须 > 0", nil)
	case c.Fetch.MaxRedirects < 0:
		return validateError("fetch.max_redirects 不能为负数", nil)
	case c.Fetch.Concurrency < 1:
		return validateError("fetch.concurrency 必须 >= 1", nil)
	case c.Serve.Addr != "" && c.Serve.Interval < time.Minute:
		return validateError("serve.interval 必须 >= 1m", nil)
	}

	if _, _, err := net.SplitHostPort(c.Validation.Target); err != nil {
		return validateError("validate.target 必须是 host:port", err)
	}
	if c.Dedupe.Policy != PolicyKeepFirst && c.Dedupe.Policy != PolicyKeepLast {
		return validateError(fmt.Sprintf("dedupe.policy 不支持：%s", c.Dedupe.Policy), nil)
	}
	for _, f := range c.Output.Formats {
		switch f {
		case FormatClash, FormatBase64, FormatLinks:
		default:
			return validateError(fmt.Sprintf("output.formats 不支持：%s", f), nil)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return validateError(fmt.Sprintf("log.format 不支持：%s", c.Log.Format), nil)
	}
	if c.Serve.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Serve.Addr); err != nil {
			return validateError("serve.addr 必须是 host:port", err)
		}
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s) == "" {
			return validateError(fmt.Sprintf("sources[%d] 不能为空", i), nil)
		}
	}
	return nil
}

func (o Output) Has(format string) bool {
	for _, f := range o.Formats {
		if f == format {
			return true
		}
	}
	return false
}

func validateError(msg string, cause error) error {
	return &ConfigError{
		AppError: model.AppError{
			Code:    "CONFIG_VALIDATE_ERROR",
			Message: msg,
			Stage:   stage,
		},
		Cause: cause,
	}
}

func yamlDecodeStrict(content string, out any) error {
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max]
}
