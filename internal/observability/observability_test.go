package observability_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalnine/moralmachine/internal/observability"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: &buf})
	logger.Debug("session started", "session", 3)
	out := buf.String()
	if !strings.Contains(out, `"msg":"session started"`) || !strings.Contains(out, `"session":3`) {
		t.Errorf("unexpected json output: %s", out)
	}

	buf.Reset()
	logger = observability.NewLogger(observability.LogConfig{Level: "warn", Output: &buf})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
}

func TestLoggerRedactsKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Output: &buf})
	logger.Info("auth", "key", "sk-abcdefghijklmnopqrstuvwxyz0123456789")
	if strings.Contains(buf.String(), "abcdefghijklmnop") {
		t.Errorf("key not redacted: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.LLMRequestCounter.WithLabelValues("openai", "gpt-4-0613", "success").Inc()
	m.SessionCounter.WithLabelValues("dummy", "en", "completed").Add(2)

	if got := testutil.ToFloat64(m.SessionCounter.WithLabelValues("dummy", "en", "completed")); got != 2 {
		t.Errorf("sessions counter = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "moralmachine_llm_requests_total"); err != nil || n != 1 {
		t.Errorf("GatherAndCount = %d, %v", n, err)
	}
}
