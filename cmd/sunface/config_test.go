package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sunface.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	c := cfg.Cadence()
	if c.Interactive != time.Second || c.Muted != time.Minute {
		t.Fatalf("default cadence = %+v", c)
	}
	if loc, err := cfg.Location(); err != nil || loc != nil {
		t.Fatalf("default location = %v, %v; want system zone", loc, err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
face:
  document_path: /weather
  muted_interval_ms: 30000
  time_zone: UTC
companion:
  enabled: true
  ws_url: wss://phone.local/sync
host:
  input_devices: [/dev/input/event3]
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Face.DocumentPath != "/weather" || cfg.Face.MutedIntervalMS != 30000 {
		t.Fatalf("face section not loaded: %+v", cfg.Face)
	}
	// Unset keys keep their defaults.
	if cfg.Face.InteractiveIntervalMS != defaultInteractiveIntervalMS || cfg.HTTP.Port != 3001 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Face, cfg.HTTP)
	}
	if !cfg.Companion.Enabled || len(cfg.Host.InputDevices) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if loc, _ := cfg.Location(); loc == nil || loc.String() != "UTC" {
		t.Fatalf("location = %v", loc)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, "face:\n  documnet_path: /typo\n")
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	for _, body := range []string{
		"face:\n  document_path: /a\n---\nface:\n  document_path: /b\n",
		"face:\n  document_path: /a\n---\nnot_a_section: 1\n",
		"face:\n  document_path: /a\n---\nplain\n",
	} {
		_, err := LoadConfigFile(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), "trailing document") {
			t.Fatalf("%q: expected trailing document error, got %v", body, err)
		}
	}

	// A leading document marker is still one document.
	cfg, err := LoadConfigFile(writeConfig(t, "---\nface:\n  document_path: /a\n"))
	if err != nil {
		t.Fatalf("single document: %v", err)
	}
	if cfg.Face.DocumentPath != "/a" {
		t.Fatalf("document_path = %q", cfg.Face.DocumentPath)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SUNFACE_DOCUMENT_PATH":     "/wx",
		"SUNFACE_MUTED_INTERVAL_MS": " 120000 ",
		"SUNFACE_COMPANION_ENABLED": "true",
		"SUNFACE_INPUT_DEVICES":     "/dev/input/event1, ,/dev/input/event2",
		"SUNFACE_LOG_LEVEL":         "debug",
		"UNRELATED":                 "x",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Face.DocumentPath != "/wx" || cfg.Face.MutedIntervalMS != 120000 || !cfg.Companion.Enabled {
		t.Fatalf("env not applied: %+v %+v", cfg.Face, cfg.Companion)
	}
	if len(cfg.Host.InputDevices) != 2 || cfg.Host.InputDevices[1] != "/dev/input/event2" {
		t.Fatalf("input devices = %q", cfg.Host.InputDevices)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{"SUNFACE_HTTP_PORT": "eighty"}))
	if err == nil || !strings.Contains(err.Error(), "SUNFACE_HTTP_PORT") {
		t.Fatalf("expected SUNFACE_HTTP_PORT error, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(p, []byte("SUNFACE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SUNFACE_TEST_DOTENV") })

	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if v := os.Getenv("SUNFACE_TEST_DOTENV"); v != "from-file" {
		t.Fatalf("env = %q", v)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("explicit missing env file should fail")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	port := 0
	devices := "/dev/input/event0,/dev/input/event4"
	zone := "Europe/Athens"
	FlagOverrides{HTTPPort: &port, InputDevices: &devices, TimeZone: &zone}.Apply(&cfg)

	if cfg.HTTP.Port != 0 {
		t.Fatalf("zero-valued override not applied")
	}
	if len(cfg.Host.InputDevices) != 2 || cfg.Face.TimeZone != zone {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Host, cfg.Face)
	}
	// Fields without overrides are untouched.
	if cfg.Face.DocumentPath != defaultDocumentPath {
		t.Fatalf("document path changed: %q", cfg.Face.DocumentPath)
	}

	FlagOverrides{}.Apply(nil)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative document path", func(c *Config) { c.Face.DocumentPath = "weather" }, "DocumentPath"},
		{"interval too small", func(c *Config) { c.Face.InteractiveIntervalMS = 1 }, "InteractiveIntervalMS"},
		{"muted faster than interactive", func(c *Config) { c.Face.MutedIntervalMS = 500 }, "muted_interval_ms"},
		{"bad zone", func(c *Config) { c.Face.TimeZone = "Nowhere/Land" }, "time_zone"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "Port"},
		{"zero width", func(c *Config) { c.Display.Width = 0 }, "Width"},
		{"reconnect range inverted", func(c *Config) { c.Companion.ReconnectMaxMS = 1 }, "ReconnectMaxMS"},
		{"companion http url", func(c *Config) {
			c.Companion.Enabled = true
			c.Companion.WsURL = "http://phone.local/sync"
		}, "ws://"},
		{"companion missing url", func(c *Config) {
			c.Companion.Enabled = true
			c.Companion.WsURL = ""
		}, "WsURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error": LogLevelError, "WARN": LogLevelWarn, "warning": LogLevelWarn,
		"info": LogLevelInfo, "Debug": LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Errorf("expected error for trace")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/sunface.yaml"); got != filepath.Join(home, "sunface.yaml") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/etc/sunface.yaml"); got != "/etc/sunface.yaml" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
