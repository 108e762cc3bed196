package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	toml "github.com/pelletier/go-toml/v2"

	"telemetry/pkg/logging"
)

const DefaultConfigPath = "telemd.toml"

const (
	LinkTCP    = "tcp"
	LinkSerial = "serial"
)

type Config struct {
	Link       LinkConfig     `toml:"link"`
	API        APIConfig      `toml:"api"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	Recorder   RecorderConfig `toml:"recorder"`
	Log        LogConfig      `toml:"log"`
	configPath string         `toml:"-"`
}

type LinkConfig struct {
	Kind      string `toml:"kind"`
	Addr      string `toml:"addr"`
	Port      string `toml:"port,omitempty"`
	Baud      int    `toml:"baud"`
	Reconnect string `toml:"reconnect"`
	// ReconnectMax caps the linear backoff between failed dials.
	ReconnectMax string `toml:"reconnect_max"`
	ReadBuf      int    `toml:"read_buf"`
	MaxPacket    int    `toml:"max_packet"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type FoxgloveConfig struct {
	Enabled     bool   `toml:"enabled"`
	WSAddr      string `toml:"ws_addr"`
	Name        string `toml:"name"`
	TopicPrefix string `toml:"topic_prefix"`
}

type RecorderConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	// Path of the JSONL event log. Empty writes to stdout.
	Path  string `toml:"path,omitempty"`
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Link: LinkConfig{
			Kind:         LinkTCP,
			Addr:         "127.0.0.1:19021",
			Baud:         115200,
			Reconnect:    "1s",
			ReconnectMax: "30s",
			ReadBuf:      64 * 1024,
			MaxPacket:    0xFFFF,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Foxglove: FoxgloveConfig{
			Enabled:     true,
			WSAddr:      "127.0.0.1:8765",
			Name:        "telemd",
			TopicPrefix: "/telemetry/",
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Path:    "telemd.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadOrDefault reports whether path existed. A missing file yields the
// defaults, not an error.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

// ReconnectInterval is only meaningful after Validate succeeded.
func (cfg *Config) ReconnectInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Link.Reconnect)
	if err != nil {
		return time.Second
	}
	return d
}

// ReconnectMaxInterval is only meaningful after Validate succeeded.
func (cfg *Config) ReconnectMaxInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Link.ReconnectMax)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RecorderPath resolves the recorder directory against the config file.
func (cfg *Config) RecorderPath() string {
	return cfg.resolve(cfg.Recorder.Path)
}

// LogPath resolves the JSONL log path against the config file. Empty means
// stdout.
func (cfg *Config) LogPath() string {
	if cfg.Log.Path == "" {
		return ""
	}
	return cfg.resolve(cfg.Log.Path)
}

// Validate reports every problem at once.
func (cfg *Config) Validate() error {
	var result *multierror.Error

	switch cfg.Link.Kind {
	case LinkTCP:
		if cfg.Link.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("link.addr is required for tcp links"))
		}
	case LinkSerial:
		if cfg.Link.Port == "" {
			result = multierror.Append(result, fmt.Errorf("link.port is required for serial links"))
		}
		if cfg.Link.Baud <= 0 {
			result = multierror.Append(result, fmt.Errorf("link.baud must be positive: %d", cfg.Link.Baud))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("link.kind must be %q or %q: %q", LinkTCP, LinkSerial, cfg.Link.Kind))
	}

	reconnect, err := time.ParseDuration(cfg.Link.Reconnect)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("link.reconnect: %w", err))
	} else if reconnect <= 0 {
		result = multierror.Append(result, fmt.Errorf("link.reconnect must be positive: %s", cfg.Link.Reconnect))
	}
	if d, err := time.ParseDuration(cfg.Link.ReconnectMax); err != nil {
		result = multierror.Append(result, fmt.Errorf("link.reconnect_max: %w", err))
	} else if d < reconnect {
		result = multierror.Append(result, fmt.Errorf("link.reconnect_max %s is below link.reconnect %s", cfg.Link.ReconnectMax, cfg.Link.Reconnect))
	}
	if cfg.Link.ReadBuf <= 0 {
		result = multierror.Append(result, fmt.Errorf("link.read_buf must be positive: %d", cfg.Link.ReadBuf))
	}
	if cfg.Link.MaxPacket <= 0 || cfg.Link.MaxPacket > 0xFFFF {
		result = multierror.Append(result, fmt.Errorf("link.max_packet out of range: %d", cfg.Link.MaxPacket))
	}

	if cfg.API.Enabled && cfg.API.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("api.addr is required when the api is enabled"))
	}
	if cfg.Foxglove.Enabled && cfg.Foxglove.WSAddr == "" {
		result = multierror.Append(result, fmt.Errorf("foxglove.ws_addr is required when the bridge is enabled"))
	}
	if cfg.Recorder.Enabled && cfg.Recorder.Path == "" {
		result = multierror.Append(result, fmt.Errorf("recorder.path is required when the recorder is enabled"))
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		result = multierror.Append(result, fmt.Errorf("log.level is not a known level: %q", cfg.Log.Level))
	}

	return result.ErrorOrNil()
}

func (cfg *Config) normalize(path string) {
	def := Default()

	cfg.Link.Kind = strings.ToLower(strings.TrimSpace(cfg.Link.Kind))
	if cfg.Link.Kind == "" {
		cfg.Link.Kind = def.Link.Kind
	}
	if cfg.Link.Reconnect == "" {
		cfg.Link.Reconnect = def.Link.Reconnect
	}
	if cfg.Link.ReconnectMax == "" {
		cfg.Link.ReconnectMax = def.Link.ReconnectMax
	}
	if cfg.Link.ReadBuf == 0 {
		cfg.Link.ReadBuf = def.Link.ReadBuf
	}
	if cfg.Link.MaxPacket == 0 {
		cfg.Link.MaxPacket = def.Link.MaxPacket
	}
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = def.Link.Baud
	}

	if cfg.Foxglove.Name == "" {
		cfg.Foxglove.Name = def.Foxglove.Name
	}
	if cfg.Foxglove.TopicPrefix == "" {
		cfg.Foxglove.TopicPrefix = def.Foxglove.TopicPrefix
	}
	if !strings.HasSuffix(cfg.Foxglove.TopicPrefix, "/") {
		cfg.Foxglove.TopicPrefix += "/"
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}

func (cfg *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	baseDir := filepath.Dir(cfg.configPath)
	if baseDir == "" {
		baseDir = "."
	}
	resolved := filepath.Clean(filepath.Join(baseDir, p))
	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}
	return resolved
}
