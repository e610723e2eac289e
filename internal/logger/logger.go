package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/gookit/color"
	"github.com/sirupsen/logrus"
)

const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
	FormatText   = "text"
)

// PrettyFormatter renders one colourised line per entry with a time-only stamp.
type PrettyFormatter struct {
	// DisableColors strips ANSI sequences, mainly for tests and pipes.
	DisableColors bool
}

func (f *PrettyFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format(time.TimeOnly)
	fmt.Fprintf(b, "%s %s %s", timestamp, f.colorizeLevel(entry.Level), entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", f.paint(color.FgGray, k), entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *PrettyFormatter) colorizeLevel(level logrus.Level) string {
	var c color.Color
	var name string

	switch level {
	case logrus.TraceLevel:
		c, name = color.FgGray, "TRACE"
	case logrus.DebugLevel:
		c, name = color.FgBlue, "DEBUG"
	case logrus.InfoLevel:
		c, name = color.FgGreen, "INFO"
	case logrus.WarnLevel:
		c, name = color.FgYellow, "WARN"
	case logrus.ErrorLevel:
		c, name = color.FgRed, "ERROR"
	default:
		c, name = color.FgLightRed, "FATAL"
	}

	return f.paint(c, fmt.Sprintf("%-5s", name))
}

func (f *PrettyFormatter) paint(c color.Color, s string) string {
	if f.DisableColors {
		return s
	}
	return c.Render(s)
}

// NewLogger returns an info-level logger writing pretty lines to stdout.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&PrettyFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// New builds a logger from a level name and one of the Format* constants.
func New(level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(lvl)

	switch format {
	case FormatPretty, "":
		log.SetFormatter(&PrettyFormatter{})
	case FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
