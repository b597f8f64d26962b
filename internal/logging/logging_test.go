package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/conorfennell/mentaton/internal/config"
)

func TestNew(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	t.Run("json handler", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, config.Log{Level: "info", Format: "json"})
		logger.Info("Question store updated", "version", 2)

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
		}
		if rec["msg"] != "Question store updated" {
			t.Errorf("Unexpected message %v", rec["msg"])
		}
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, config.Log{Level: "warn", Format: "text"})
		logger.Info("hidden")
		logger.Warn("shown")
		if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
			t.Errorf("Unexpected output %q", buf.String())
		}
	})
}

func TestParseLevel(t *testing.T) {
	for in, expected := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		if got := parseLevel(in); got != expected {
			t.Errorf("parseLevel(%q) = %v, expected %v", in, got, expected)
		}
	}
}
