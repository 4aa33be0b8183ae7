// Package config loads flog configuration from defaults, an optional
// config file and FLOG_ environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/flogapp/flog/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. FLOG_PEER_SECRET.
const EnvPrefix = "FLOG"

// FileName is the config file name without extension.
const FileName = "flog"

// Config is the effective configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" toml:"data_dir" yaml:"data_dir"`
	Layout    string          `mapstructure:"layout" toml:"layout" yaml:"layout"`
	Log       LogConfig       `mapstructure:"log" toml:"log" yaml:"log"`
	Primary   PrimaryConfig   `mapstructure:"primary" toml:"primary" yaml:"primary"`
	Companion CompanionConfig `mapstructure:"companion" toml:"companion" yaml:"companion"`
	Peer      PeerConfig      `mapstructure:"peer" toml:"peer" yaml:"peer"`
}

// LogConfig controls where logs go. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" yaml:"compress"`
}

// PrimaryConfig configures the primary daemon.
type PrimaryConfig struct {
	CompanionURL      string   `mapstructure:"companion_url" toml:"companion_url" yaml:"companion_url"`
	InboxDir          string   `mapstructure:"inbox_dir" toml:"inbox_dir" yaml:"inbox_dir"`
	ReconnectInterval Duration `mapstructure:"reconnect_interval" toml:"reconnect_interval" yaml:"reconnect_interval"`
	DebounceInterval  Duration `mapstructure:"debounce_interval" toml:"debounce_interval" yaml:"debounce_interval"`
	DialTimeout       Duration `mapstructure:"dial_timeout" toml:"dial_timeout" yaml:"dial_timeout"`
}

// CompanionConfig configures the companion server.
type CompanionConfig struct {
	Listen        string   `mapstructure:"listen" toml:"listen" yaml:"listen"`
	ConfirmWindow Duration `mapstructure:"confirm_window" toml:"confirm_window" yaml:"confirm_window"`
}

// PeerConfig holds the pairing settings shared by both sides.
type PeerConfig struct {
	Secret   string   `mapstructure:"secret" toml:"secret" yaml:"secret"`
	TokenTTL Duration `mapstructure:"token_ttl" toml:"token_ttl" yaml:"token_ttl"`
}

// Duration is a time.Duration that reads and writes as "5s" in every
// format.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultDataDir returns $FLOG_HOME, or ~/.flog.
func DefaultDataDir() string {
	if home := os.Getenv("FLOG_HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".flog")
	}
	return ".flog"
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Layout:  string(model.LayoutSingle),
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Primary: PrimaryConfig{
			CompanionURL:      "ws://127.0.0.1:7420/peer",
			ReconnectInterval: Duration(5 * time.Second),
			DebounceInterval:  Duration(100 * time.Millisecond),
			DialTimeout:       Duration(5 * time.Second),
		},
		Companion: CompanionConfig{
			Listen:        "127.0.0.1:7420",
			ConfirmWindow: Duration(3 * time.Second),
		},
		Peer: PeerConfig{
			TokenTTL: Duration(time.Hour),
		},
	}
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the effective
// configuration. An explicit path must exist; otherwise flog.toml or
// flog.yaml is searched in $FLOG_HOME and the working directory.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		if home := os.Getenv("FLOG_HOME"); home != "" {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationHook())); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed up later.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", model.ErrInvalid)
	}
	if _, err := model.ParseLayout(c.Layout); err != nil {
		return err
	}
	if c.Companion.ConfirmWindow < 0 {
		return fmt.Errorf("%w: companion.confirm_window must not be negative", model.ErrInvalid)
	}
	return nil
}

// LayoutValue returns the configured layout.
func (c Config) LayoutValue() model.Layout {
	l, err := model.ParseLayout(c.Layout)
	if err != nil {
		return model.LayoutSingle
	}
	return l
}

// PrimaryDB is the primary's database path.
func (c Config) PrimaryDB() string {
	return filepath.Join(c.DataDir, "primary.db")
}

// CompanionDB is the companion's key space database path.
func (c Config) CompanionDB() string {
	return filepath.Join(c.DataDir, "companion.db")
}

// ConfigFile returns the default config file path in dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, FileName+".toml")
}

// WriteTOML writes cfg to path as TOML. An existing file is only replaced
// when force is set.
func WriteTOML(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// YAML returns cfg as YAML. The peer secret is masked unless reveal is set.
func YAML(cfg Config, reveal bool) ([]byte, error) {
	if !reveal && cfg.Peer.Secret != "" {
		cfg.Peer.Secret = "********"
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("layout", d.Layout)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("primary.companion_url", d.Primary.CompanionURL)
	v.SetDefault("primary.inbox_dir", d.Primary.InboxDir)
	v.SetDefault("primary.reconnect_interval", d.Primary.ReconnectInterval.D().String())
	v.SetDefault("primary.debounce_interval", d.Primary.DebounceInterval.D().String())
	v.SetDefault("primary.dial_timeout", d.Primary.DialTimeout.D().String())
	v.SetDefault("companion.listen", d.Companion.Listen)
	v.SetDefault("companion.confirm_window", d.Companion.ConfirmWindow.D().String())
	v.SetDefault("peer.secret", d.Peer.Secret)
	v.SetDefault("peer.token_ttl", d.Peer.TokenTTL.D().String())
}

// durationHook decodes "5s" strings into Duration fields.
func durationHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}
