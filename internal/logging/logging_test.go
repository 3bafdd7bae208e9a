package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestVerboseEnablesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(true, &buf)

	logger.Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Fatalf("expected debug message to be emitted when verbose, got %q", buf.String())
	}
}

func TestNonVerboseSuppressesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, &buf)

	logger.Debug("debug message")
	if strings.Contains(buf.String(), "debug message") {
		t.Fatalf("expected debug message to be suppressed when not verbose, got %q", buf.String())
	}

	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Fatalf("expected info message to be emitted when not verbose, got %q", buf.String())
	}
}
