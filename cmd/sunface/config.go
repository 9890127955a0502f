package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the sunface daemon.
//
// Precedence, lowest first: DefaultConfig, config file, SUNFACE_* environment
// (optionally from a .env file), command-line flags.
type Config struct {
	Face      FaceConfig          `yaml:"face"`
	Display   DisplayConfig       `yaml:"display"`
	Companion CompanionFileConfig `yaml:"companion"`
	Host      HostConfig          `yaml:"host"`
	HTTP      HTTPConfig          `yaml:"http"`
	Logging   LoggingConfig       `yaml:"logging"`
}

type FaceConfig struct {
	DocumentPath          string `yaml:"document_path" validate:"required,startswith=/"`
	InteractiveIntervalMS int    `yaml:"interactive_interval_ms" validate:"gte=10,lte=3600000"`
	MutedIntervalMS       int    `yaml:"muted_interval_ms" validate:"gte=10,lte=3600000"`
	// TimeZone is an IANA name; empty means the system zone.
	TimeZone string `yaml:"time_zone,omitempty"`
}

type DisplayConfig struct {
	Width    int  `yaml:"width" validate:"gt=0,lte=4096"`
	Height   int  `yaml:"height" validate:"gt=0,lte=4096"`
	Terminal bool `yaml:"terminal"` // draw a preview on stdout as well
}

type CompanionFileConfig struct {
	Enabled            bool   `yaml:"enabled"`
	WsURL              string `yaml:"ws_url" validate:"required_if=Enabled true,omitempty,url"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms" validate:"gt=0"`
	FetchTimeoutMS     int    `yaml:"fetch_timeout_ms" validate:"gt=0"`
	ReconnectMinMS     int    `yaml:"reconnect_min_ms" validate:"gt=0"`
	ReconnectMaxMS     int    `yaml:"reconnect_max_ms" validate:"gtefield=ReconnectMinMS"`
}

type HostConfig struct {
	SocketPath   string   `yaml:"socket_path" validate:"required"`
	InputDevices []string `yaml:"input_devices,omitempty" validate:"dive,required"`
}

type HTTPConfig struct {
	Port       int    `yaml:"port" validate:"gte=0,lte=65535"` // 0 disables the HTTP server
	FaceWSPath string `yaml:"face_ws_path" validate:"required,startswith=/"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"required,oneof=error warn warning info debug"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Face: FaceConfig{
			DocumentPath:          defaultDocumentPath,
			InteractiveIntervalMS: defaultInteractiveIntervalMS,
			MutedIntervalMS:       defaultMutedIntervalMS,
		},
		Display: DisplayConfig{
			Width:  defaultDisplayWidth,
			Height: defaultDisplayHeight,
		},
		Companion: CompanionFileConfig{
			Enabled:            false,
			WsURL:              "ws://127.0.0.1:8765/sync",
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			FetchTimeoutMS:     defaultFetchTimeoutMS,
			ReconnectMinMS:     defaultReconnectMinMS,
			ReconnectMaxMS:     defaultReconnectMaxMS,
		},
		Host: HostConfig{
			SocketPath: "/tmp/sunface.sock",
		},
		HTTP: HTTPConfig{
			Port:       3001,
			FaceWSPath: "/face",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - Only one YAML document is allowed.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing default file is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// envPrefix namespaces every environment override.
const envPrefix = "SUNFACE_"

// ApplyEnv applies SUNFACE_* overrides from lookup (normally os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("DOCUMENT_PATH", &c.Face.DocumentPath)
	str("TIME_ZONE", &c.Face.TimeZone)
	str("COMPANION_WS_URL", &c.Companion.WsURL)
	str("SOCKET_PATH", &c.Host.SocketPath)
	str("LOG_LEVEL", &c.Logging.Level)
	if v, ok := lookup(envPrefix + "INPUT_DEVICES"); ok {
		c.Host.InputDevices = splitList(v)
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"INTERACTIVE_INTERVAL_MS", &c.Face.InteractiveIntervalMS},
		{"MUTED_INTERVAL_MS", &c.Face.MutedIntervalMS},
		{"DISPLAY_WIDTH", &c.Display.Width},
		{"DISPLAY_HEIGHT", &c.Display.Height},
		{"HTTP_PORT", &c.HTTP.Port},
	} {
		if err := num(f.key, f.dst); err != nil {
			return err
		}
	}

	if err := boolean("COMPANION_ENABLED", &c.Companion.Enabled); err != nil {
		return err
	}
	return boolean("DISPLAY_TERMINAL", &c.Display.Terminal)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags pass pointers; each override is applied only if the pointer is non-nil,
// even when it holds a zero value.
type FlagOverrides struct {
	DocumentPath          *string
	InteractiveIntervalMS *int
	MutedIntervalMS       *int
	TimeZone              *string

	DisplayWidth    *int
	DisplayHeight   *int
	DisplayTerminal *bool

	CompanionEnabled *bool
	CompanionWsURL   *string

	SocketPath   *string
	InputDevices *string // comma separated

	HTTPPort *int

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.DocumentPath != nil {
		cfg.Face.DocumentPath = *o.DocumentPath
	}
	if o.InteractiveIntervalMS != nil {
		cfg.Face.InteractiveIntervalMS = *o.InteractiveIntervalMS
	}
	if o.MutedIntervalMS != nil {
		cfg.Face.MutedIntervalMS = *o.MutedIntervalMS
	}
	if o.TimeZone != nil {
		cfg.Face.TimeZone = *o.TimeZone
	}

	if o.DisplayWidth != nil {
		cfg.Display.Width = *o.DisplayWidth
	}
	if o.DisplayHeight != nil {
		cfg.Display.Height = *o.DisplayHeight
	}
	if o.DisplayTerminal != nil {
		cfg.Display.Terminal = *o.DisplayTerminal
	}

	if o.CompanionEnabled != nil {
		cfg.Companion.Enabled = *o.CompanionEnabled
	}
	if o.CompanionWsURL != nil {
		cfg.Companion.WsURL = *o.CompanionWsURL
	}

	if o.SocketPath != nil {
		cfg.Host.SocketPath = *o.SocketPath
	}
	if o.InputDevices != nil {
		cfg.Host.InputDevices = splitList(*o.InputDevices)
	}

	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

var validate = validator.New()

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	if c.Face.TimeZone != "" {
		if _, err := time.LoadLocation(c.Face.TimeZone); err != nil {
			return fmt.Errorf("face.time_zone: %w", err)
		}
	}
	if c.Face.MutedIntervalMS < c.Face.InteractiveIntervalMS {
		return errors.New("face.muted_interval_ms must be >= face.interactive_interval_ms")
	}

	if c.Companion.Enabled {
		if !strings.HasPrefix(c.Companion.WsURL, "ws://") && !strings.HasPrefix(c.Companion.WsURL, "wss://") {
			return errors.New("companion.ws_url must use ws:// or wss://")
		}
	}

	return nil
}

// Cadence converts the face section into the scheduler config.
func (c *Config) Cadence() CadenceConfig {
	return CadenceConfig{
		Interactive: time.Duration(c.Face.InteractiveIntervalMS) * time.Millisecond,
		Muted:       time.Duration(c.Face.MutedIntervalMS) * time.Millisecond,
	}
}

// Location resolves face.time_zone; nil means the system zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Face.TimeZone == "" {
		return nil, nil
	}
	return time.LoadLocation(c.Face.TimeZone)
}

// CompanionConfig converts the companion section for NewCompanionClient.
func (c *Config) CompanionConfig() CompanionConfig {
	return CompanionConfig{
		URL:              c.Companion.WsURL,
		HandshakeTimeout: time.Duration(c.Companion.HandshakeTimeoutMS) * time.Millisecond,
		ReconnectMin:     time.Duration(c.Companion.ReconnectMinMS) * time.Millisecond,
		ReconnectMax:     time.Duration(c.Companion.ReconnectMaxMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
