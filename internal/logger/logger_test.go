package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestPrettyFormatter(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&PrettyFormatter{DisableColors: true})

	log.WithFields(logrus.Fields{"transfer_id": "abc", "chunk": 3}).Warn("chunk discarded")

	line := buf.String()
	if !strings.Contains(line, "WARN  chunk discarded") {
		t.Errorf("expected level and message, got %q", line)
	}
	if !strings.Contains(line, "chunk=3 transfer_id=abc") {
		t.Errorf("expected sorted fields, got %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("expected trailing newline, got %q", line)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
	}{
		{"info", FormatPretty, false},
		{"debug", FormatText, false},
		{"warning", FormatJSON, false},
		{"info", "", false},
		{"loud", FormatPretty, true},
		{"info", "xml", true},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q, %q): expected error", tt.level, tt.format)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q, %q): unexpected error: %v", tt.level, tt.format, err)
			continue
		}
		if log.GetLevel().String() != tt.level {
			t.Errorf("New(%q, %q): got level %s", tt.level, tt.format, log.GetLevel())
		}
	}
}

func TestNewJSONFormatter(t *testing.T) {
	log, err := New("info", FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected *logrus.JSONFormatter, got %T", log.Formatter)
	}
}
