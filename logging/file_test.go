package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plantlink.log")

	logger, err := NewFileLogger(path, false)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	logger.Log("connected to %s", "opc.tcp://plc:4840")
	logger.Log("session active")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "connected to opc.tcp://plc:4840") {
		t.Errorf("missing first message in %q", content)
	}
	if !strings.Contains(content, "session active") {
		t.Errorf("missing second message in %q", content)
	}

	// Logging after close must be a silent no-op
	logger.Log("after close")
	after, _ := os.ReadFile(path)
	if strings.Contains(string(after), "after close") {
		t.Error("message written after close")
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plantlink.log")

	first, err := NewFileLogger(path, false)
	if err != nil {
		t.Fatal(err)
	}
	first.Log("one")
	first.Close()

	second, err := NewFileLogger(path, false)
	if err != nil {
		t.Fatal(err)
	}
	second.Log("two")
	second.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "one") || !strings.Contains(string(data), "two") {
		t.Errorf("expected both sessions in log, got %q", data)
	}
}

func TestDebugLoggerFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger failed: %v", err)
	}

	logger.SetFilter("opcua, mqtt")

	logger.Log("opcua", "subscription created")
	logger.Log("kafka", "writer created")  // filtered out
	logger.Log("MQTT", "broker connected") // case-insensitive match

	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read debug log failed: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "subscription created") {
		t.Error("opcua message missing")
	}
	if strings.Contains(content, "writer created") {
		t.Error("kafka message should be filtered")
	}
	if !strings.Contains(content, "broker connected") {
		t.Error("mqtt message missing despite case-insensitive filter")
	}
	// Header/footer always pass the filter
	if !strings.Contains(content, "Debug logging started") {
		t.Error("header missing")
	}
	if !strings.Contains(content, "Debug logging ended") {
		t.Error("footer missing")
	}
}

func TestGlobalDebugLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	SetGlobalDebugLogger(logger)
	defer SetGlobalDebugLogger(nil)

	DebugLog("bridge", "connect cycle %d", 3)
	DebugError("s7", "read DB1", os.ErrDeadlineExceeded)

	logger.Close()

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "connect cycle 3") {
		t.Error("DebugLog message missing")
	}
	if !strings.Contains(content, "ERROR in read DB1") {
		t.Error("DebugError message missing")
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var logger *DebugLogger
	// All methods must be nil-safe
	logger.Log("bridge", "ignored")
	logger.SetFilter("opcua")
	if err := logger.Close(); err != nil {
		t.Errorf("nil Close returned %v", err)
	}
}
