package logging

import (
	"bytes"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetupWritesFileAndLatestLink(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	logger, closer, err := Setup(Options{Dir: dir, Level: log.LevelInfo}, now)
	if err != nil {
		t.Fatalf("Setup() returned error: %v", err)
	}
	logger.Debug("debug line", "component", "test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	name := FileName(now)
	if name != "pipeline_20250314_092653.log" {
		t.Fatalf("unexpected file name %q", name)
	}

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != name {
		t.Fatalf("latest.log points to %q, want %q", target, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "debug line") {
		t.Fatalf("file log must capture debug records, got %q", data)
	}
}

func TestSetupReplacesLatestLink(t *testing.T) {
	dir := t.TempDir()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	for _, now := range []time.Time{first, second} {
		_, closer, err := Setup(Options{Dir: dir}, now)
		if err != nil {
			t.Fatalf("Setup() returned error: %v", err)
		}
		closer.Close()
	}

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != FileName(second) {
		t.Fatalf("latest.log points to %q, want %q", target, FileName(second))
	}
}

func TestConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := Setup(Options{Console: true, Level: log.LevelWarn, Stdout: &buf}, time.Now())
	if err != nil {
		t.Fatalf("Setup() returned error: %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record leaked to warn console: %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record missing from console: %q", out)
	}
}

func TestTeeFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := tee{
		log.NewTextHandler(&a, &log.HandlerOptions{Level: log.LevelDebug}),
		log.NewTextHandler(&b, &log.HandlerOptions{Level: log.LevelError}),
	}
	logger := log.New(h).With("component", "tee")

	logger.Debug("only a")
	logger.Error("both")

	if !strings.Contains(a.String(), "only a") || !strings.Contains(a.String(), "both") {
		t.Errorf("handler a missing records: %q", a.String())
	}
	if strings.Contains(b.String(), "only a") || !strings.Contains(b.String(), "both") {
		t.Errorf("handler b got wrong records: %q", b.String())
	}
	if !strings.Contains(b.String(), "component=tee") {
		t.Errorf("attrs not propagated: %q", b.String())
	}
}
