package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("not shown")
	logger.Info("not shown")
	logger.Warn("shown", "k", 1)
	logger.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("suppressed level leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown k=1") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] also shown") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestKeyValueRendering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("msg", "seq", 42, "tag", "RPC")
	if !strings.Contains(buf.String(), "msg seq=42 tag=RPC") {
		t.Errorf("bad rendering: %q", buf.String())
	}

	buf.Reset()
	logger.Info("msg", "dangling")
	if !strings.Contains(buf.String(), "[INFO] msg") || strings.Contains(buf.String(), "dangling") {
		t.Errorf("unpaired key not dropped: %q", buf.String())
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var logger *Logger
	// Must not panic.
	logger.Debugf("dropped %d", 1)
	logger.Printf("dropped")
	logger.Error("dropped")
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	defer SetDefault(nil)

	Default().Printf("through default")
	if !strings.Contains(buf.String(), "through default") {
		t.Errorf("SetDefault not honored: %q", buf.String())
	}
}
