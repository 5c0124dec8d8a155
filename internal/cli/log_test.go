package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, log.InfoLevel)

	l.Debug("hidden")
	l.Info("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message must be filtered at info level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("info message missing from output")
	}
}

func TestLoggerFromContext(t *testing.T) {
	l := newLogger(&bytes.Buffer{}, log.DebugLevel)
	ctx := withLogger(context.Background(), l)

	if got := loggerFromContext(ctx); got != l {
		t.Error("expected the attached logger")
	}
	if got := loggerFromContext(context.Background()); got == nil {
		t.Error("expected a fallback logger for bare contexts")
	}
}
