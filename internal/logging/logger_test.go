package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer func() { _ = logger.Close() }()

		logPath := filepath.Join(dir, LogFileName)
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no owned file when dir is empty")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{LevelWarn, []string{"WARN", "ERROR"}},
		{LevelError, []string{"ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWriterLogger(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			lines := decodeLines(t, buf.Bytes())
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d", len(lines), len(tt.want))
			}
			for i, line := range lines {
				if line["level"] != tt.want[i] {
					t.Errorf("line %d level = %v, want %s", i, line["level"], tt.want[i])
				}
			}
		})
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelDebug)

	child := base.WithSession("sess-1").WithComponent("coordinator").WithSubject("Alice")
	child.Info("greeting delivered", "total_ms", 412.5)
	base.Info("untagged")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	tagged := lines[0]
	for key, want := range map[string]any{
		KeySession:   "sess-1",
		KeyComponent: "coordinator",
		KeySubject:   "Alice",
		"total_ms":   412.5,
	} {
		if tagged[key] != want {
			t.Errorf("%s = %v, want %v", key, tagged[key], want)
		}
	}

	if _, ok := lines[1][KeyComponent]; ok {
		t.Error("parent logger should not inherit child attributes")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	if logger.With() != logger {
		t.Error("With() with no args should return the same logger")
	}

	logger.With("cycle", 7, 42, "skipped", "behavior", "neutral").Info("x")
	line := decodeLines(t, buf.Bytes())[0]
	if line["cycle"] != float64(7) {
		t.Errorf("cycle = %v, want 7", line["cycle"])
	}
	if line["behavior"] != "neutral" {
		t.Errorf("behavior = %v, want neutral", line["behavior"])
	}
}

func TestEnabled(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{}, LevelWarn)
	if logger.Enabled(LevelInfo) {
		t.Error("Enabled(INFO) = true at WARN level")
	}
	if !logger.Enabled(LevelError) {
		t.Error("Enabled(ERROR) = false at WARN level")
	}
}

func TestCloseSharedAcrossChildren(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	child := logger.WithComponent("tracker")
	child.Info("before close")

	if err := child.Close(); err != nil {
		t.Fatalf("child Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "before close") {
		t.Error("log file missing entry written before close")
	}
}

func TestConcurrentLogging(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := logger.With("worker", n)
			for j := 0; j < 50; j++ {
				l.Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
	_ = logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := len(decodeLines(t, data)); got != 400 {
		t.Errorf("got %d lines, want 400", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("dropped")
	logger.WithComponent("x").Info("dropped")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
