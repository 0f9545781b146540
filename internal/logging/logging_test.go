package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"ironfront/server/internal/config"
)

func TestInit_ParsesLevel(t *testing.T) {
	log, err := Init(config.LogConfig{Level: "debug"})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	if _, err := Init(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestInit_WritesToConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := Init(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	log.Info("gateway listening")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "gateway listening") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestComponent_TagsEntries(t *testing.T) {
	log, err := Init(config.LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)

	Component(log, "replication").Info("tick started")

	if out := buf.String(); !strings.Contains(out, "component=replication") {
		t.Fatalf("expected component field in output, got %q", out)
	}
}
