package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/enginehost/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENGINEHOST_LISTEN_ADDR", "")
	t.Setenv("ENGINEHOST_DB_PATH", "")
	t.Setenv("ENGINEHOST_LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Engine != defaultEngine {
		t.Errorf("Engine = %q, want %q", cfg.Engine, defaultEngine)
	}
	if cfg.DrainTimeout != 0 {
		t.Errorf("DrainTimeout = %v, want 0", cfg.DrainTimeout)
	}
	if cfg.DrainPollInterval != defaultDrainPollInterval {
		t.Errorf("DrainPollInterval = %v, want %v", cfg.DrainPollInterval, defaultDrainPollInterval)
	}
	if !cfg.Settings.MultiThreadedMessageLoop {
		t.Error("MultiThreadedMessageLoop should default to true")
	}
	if cfg.Settings.BackgroundColor != 0xFFFFFFFF {
		t.Errorf("BackgroundColor = %#x, want opaque white", cfg.Settings.BackgroundColor)
	}
	if filepath.Base(cfg.CrashConfigPath) != defaultCrashConfigName {
		t.Errorf("CrashConfigPath = %q, want file named %s", cfg.CrashConfigPath, defaultCrashConfigName)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENGINEHOST_LISTEN_ADDR", ":9090")
	t.Setenv("ENGINEHOST_DB_PATH", "/tmp/test.db")
	t.Setenv("ENGINEHOST_LOG_LEVEL", "debug")
	t.Setenv("ENGINEHOST_DRAIN_TIMEOUT", "250ms")
	t.Setenv("ENGINEHOST_SETTINGS_CACHE_PATH", "/var/cache/eh/profile")
	t.Setenv("ENGINEHOST_SETTINGS_LOG_SEVERITY", "warning")
	t.Setenv("ENGINEHOST_SETTINGS_MULTI_THREADED_MESSAGE_LOOP", "false")
	t.Setenv("ENGINEHOST_SETTINGS_BACKGROUND_COLOR", "#112233")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.DrainTimeout != 250*time.Millisecond {
		t.Errorf("DrainTimeout = %v, want 250ms", cfg.DrainTimeout)
	}
	if cfg.Settings.CachePath != "/var/cache/eh/profile" {
		t.Errorf("CachePath = %q", cfg.Settings.CachePath)
	}
	if cfg.Settings.LogSeverity != model.LogSeverityWarning {
		t.Errorf("LogSeverity = %v, want warning", cfg.Settings.LogSeverity)
	}
	if cfg.Settings.MultiThreadedMessageLoop {
		t.Error("MultiThreadedMessageLoop should be false")
	}
	if cfg.Settings.BackgroundColor != 0xFF112233 {
		t.Errorf("BackgroundColor = %#x, want 0xff112233", cfg.Settings.BackgroundColor)
	}
}

func TestLoadRejectsBadSeverity(t *testing.T) {
	t.Setenv("ENGINEHOST_SETTINGS_LOG_SEVERITY", "loud")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log severity")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enginehost.yaml")
	body := []byte(`listen_addr: ":7070"
engine: sim
drain_timeout: 2s
settings:
  locale: de-DE
  remote_debugging_port: 9222
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINEHOST_LISTEN_ADDR", ":6060")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	// Environment wins over the file.
	if cfg.ListenAddr != ":6060" {
		t.Errorf("ListenAddr = %q, want :6060", cfg.ListenAddr)
	}
	if cfg.DrainTimeout != 2*time.Second {
		t.Errorf("DrainTimeout = %v, want 2s", cfg.DrainTimeout)
	}
	if cfg.Settings.Locale != "de-DE" {
		t.Errorf("Locale = %q, want de-DE", cfg.Settings.Locale)
	}
	if cfg.Settings.RemoteDebuggingPort != 9222 {
		t.Errorf("RemoteDebuggingPort = %d, want 9222", cfg.Settings.RemoteDebuggingPort)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("engine ready", "state", "initialized")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "engine ready" {
		t.Errorf("msg = %v, want %q", entry["msg"], "engine ready")
	}
	if entry["state"] != "initialized" {
		t.Errorf("state = %v, want %q", entry["state"], "initialized")
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"relative cache path", func(s *Settings) { s.CachePath = "cache" }, true},
		{"cache under root", func(s *Settings) {
			s.RootCachePath = "/data/eh"
			s.CachePath = "/data/eh/profiles/a"
		}, false},
		{"cache equals root", func(s *Settings) {
			s.RootCachePath = "/data/eh"
			s.CachePath = "/data/eh"
		}, false},
		{"cache outside root", func(s *Settings) {
			s.RootCachePath = "/data/eh"
			s.CachePath = "/data/other"
		}, true},
		{"cache sibling prefix", func(s *Settings) {
			s.RootCachePath = "/data/eh"
			s.CachePath = "/data/eh2"
		}, true},
		{"relative subprocess", func(s *Settings) { s.BrowserSubprocessPath = "bin/sub" }, true},
		{"debug port zero", func(s *Settings) { s.RemoteDebuggingPort = 0 }, false},
		{"debug port low", func(s *Settings) { s.RemoteDebuggingPort = 80 }, true},
		{"debug port ok", func(s *Settings) { s.RemoteDebuggingPort = 9222 }, false},
		{"debug port high", func(s *Settings) { s.RemoteDebuggingPort = 70000 }, true},
		{"bad severity", func(s *Settings) { s.LogSeverity = model.LogSeverity(42) }, true},
		{"external pump with mt loop", func(s *Settings) { s.ExternalMessagePump = true }, true},
		{"external pump single thread", func(s *Settings) {
			s.ExternalMessagePump = true
			s.MultiThreadedMessageLoop = false
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("error %v does not wrap ErrInvalidSettings", err)
			}
		})
	}
}

func TestSettingsNative(t *testing.T) {
	s := DefaultSettings()
	s.CachePath = "/data/eh"
	s.LogSeverity = model.LogSeverityDisable
	s.CommandLineArgs = map[string]string{"disable-gpu": ""}

	n := s.Native()
	if n.RootCachePath != "/data/eh" {
		t.Errorf("RootCachePath = %q, want cache path fallback", n.RootCachePath)
	}
	if n.LogSeverity != 99 {
		t.Errorf("LogSeverity = %d, want 99", n.LogSeverity)
	}
	if n.BackgroundColor != s.BackgroundColor {
		t.Errorf("BackgroundColor = %#x, want %#x", n.BackgroundColor, s.BackgroundColor)
	}

	n.CommandLineArgs["mutated"] = "1"
	if _, ok := s.CommandLineArgs["mutated"]; ok {
		t.Error("Native should copy CommandLineArgs")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{"FF112233", 0xFF112233, false},
		{"#80112233", 0x80112233, false},
		{"0x00000000", 0, false},
		{"112233", 0xFF112233, false},
		{"12345", 0, true},
		{"GG112233", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %#x, want %#x", tt.input, got, tt.want)
		}
	}
}
