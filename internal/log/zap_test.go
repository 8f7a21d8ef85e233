package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")

	zl, err := NewLogger(WithLogLevel("warn"), WithOutputPaths(out))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	zl.Info("dropped")
	zl.Warn("kept")
	zl.Sync()

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), b)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["msg"] != "kept" {
		t.Errorf("Expected msg kept, got %v", m["msg"])
	}
	if _, ok := m["caller"]; ok {
		t.Errorf("Expected caller to be disabled")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(WithLogLevel("loud")); err == nil {
		t.Fatal("Expected error for unknown level")
	}
}

func TestNewLogger_InvalidEncoding(t *testing.T) {
	if _, err := NewLogger(WithEncoding("xml")); err == nil {
		t.Fatal("Expected error for unknown encoding")
	}
}

func TestMust_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	Must(NewLogger(WithLogLevel("loud")))
}
