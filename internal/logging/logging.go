// Package logging builds the logrus logger shared by every stage.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out (stderr when nil). format is "text" or
// "json"; level is any logrus level name.
func New(level string, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	var formatter logrus.Formatter
	switch format {
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
	case "json":
		formatter = &logrus.JSONFormatter{FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "timestamp"}}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return &logrus.Logger{
		Out:       out,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     lvl,
	}, nil
}

// Discard is a logger that drops everything; stages fall back to it when the
// caller supplies none.
func Discard() *logrus.Logger {
	return &logrus.Logger{
		Out:       io.Discard,
		Formatter: &logrus.TextFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.PanicLevel,
	}
}

// Stage returns an entry tagged with the pipeline stage name.
func Stage(l logrus.FieldLogger, name string) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("stage", name)
}
