package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"twlv/pkg/config"
)

func TestSetupLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	logger.Info("logger smoke test", zap.String("component", "test"))
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "logger smoke test") {
		t.Fatalf("log file missing entry: %s", b)
	}
	if !strings.Contains(string(b), `"component":"test"`) {
		t.Fatalf("log file missing field: %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"info":    zap.NewAtomicLevelAt(zap.InfoLevel),
		"warn":    zap.NewAtomicLevelAt(zap.WarnLevel),
		"warning": zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"bogus":   zap.NewAtomicLevelAt(zap.InfoLevel),
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want.Level() {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want.Level())
		}
	}
}
