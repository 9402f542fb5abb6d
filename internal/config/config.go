// Package config builds the immutable runtime configuration from defaults,
// an optional nvd.yaml file, NVD_* environment variables and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"github.com/mschirtzinger/nvd-cache/internal/sync"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultURL is the NVD JSON 1.1 feed root.
const DefaultURL = "https://nvd.nist.gov/feeds/json/cve/1.1/"

// EnvPrefix prefixes every environment override, e.g. NVD_DB.
const EnvPrefix = "NVD"

// Config is the runtime configuration. Build it once with Load and pass it
// by value.
type Config struct {
	URL          string       `mapstructure:"url" yaml:"url" validate:"required,url"`
	Feeds        []string     `mapstructure:"feeds" yaml:"feeds" validate:"min=1,unique,dive,required"`
	DB           string       `mapstructure:"db" yaml:"db" validate:"required"`
	ShowProgress bool         `mapstructure:"show_progress" yaml:"show_progress"`
	ForceUpdate  bool         `mapstructure:"force_update" yaml:"force_update"`
	Log          LogConfig    `mapstructure:"log" yaml:"log"`
	HTTP         HTTPConfig   `mapstructure:"http" yaml:"http"`
	Daemon       DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file" yaml:"file"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// HTTPConfig configures the remote feed client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DaemonConfig configures the scheduled mirror.
type DaemonConfig struct {
	// Schedule is a robfig/cron spec such as "@hourly" or "0 */2 * * *".
	Schedule string `mapstructure:"schedule" yaml:"schedule" validate:"required"`
	// MirrorDir, when set, replaces the HTTP source with a local mirror
	// directory that is also watched for metadata changes.
	MirrorDir   string        `mapstructure:"mirror_dir" yaml:"mirror_dir"`
	MetricsAddr string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Debounce    time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// DefaultFeeds lists the yearly partitions 2002..2021 followed by the rolling
// windows, which must come last.
func DefaultFeeds() []string {
	feeds := make([]string, 0, 22)
	for year := 2002; year <= 2021; year++ {
		feeds = append(feeds, strconv.Itoa(year))
	}
	return append(feeds, "recent", "modified")
}

// DefaultDBPath picks $XDG_CACHE_HOME/nvd/nvd.sqlite3, then
// ~/.cache/nvd/nvd.sqlite3, then the same under the OS temp directory.
func DefaultDBPath() string {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			base = filepath.Join(home, ".cache")
		} else {
			base = os.TempDir()
		}
	}
	return filepath.Join(base, "nvd", "nvd.sqlite3")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		URL:          DefaultURL,
		Feeds:        DefaultFeeds(),
		DB:           DefaultDBPath(),
		ShowProgress: true,
		Log:          LogConfig{Level: "info"},
		HTTP:         HTTPConfig{Timeout: 5 * time.Minute},
		Daemon: DaemonConfig{
			Schedule: "@hourly",
			Debounce: 2 * time.Second,
		},
	}
}

// NewViper returns a viper instance with defaults, environment binding and
// config file lookup prepared. An explicit configFile must exist; otherwise
// nvd.yaml is looked up in ".", $XDG_CONFIG_HOME/nvd and ~/.config/nvd.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nvd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "nvd"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "nvd"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("url", d.URL)
	v.SetDefault("feeds", d.Feeds)
	v.SetDefault("db", d.DB)
	v.SetDefault("show_progress", d.ShowProgress)
	v.SetDefault("force_update", d.ForceUpdate)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)

	v.SetDefault("http.timeout", d.HTTP.Timeout.String())
	v.SetDefault("http.user_agent", "")

	v.SetDefault("daemon.schedule", d.Daemon.Schedule)
	v.SetDefault("daemon.mirror_dir", "")
	v.SetDefault("daemon.metrics_addr", "")
	v.SetDefault("daemon.debounce", d.Daemon.Debounce.String())
}

// Load reads the config file, if any, and decodes v into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
	} else {
		logging.WithModule("config").Debug("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// SyncConfig returns the engine configuration. The feed list is copied.
func (c Config) SyncConfig() sync.Config {
	return sync.Config{
		Partitions:  append([]string(nil), c.Feeds...),
		ForceUpdate: c.ForceUpdate,
	}
}

// LoggingOptions returns the logging setup for this configuration.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, File: c.Log.File, JSON: c.Log.JSON}
}

// String renders the summary printed by `nvd sync --show-default`.
func (c Config) String() string {
	return fmt.Sprintf("Url: %s\nFeeds: %s\nDB Path: %s\nProgress Bar: %t\n",
		c.URL, strings.Join(c.Feeds, ","), c.DB, c.ShowProgress)
}

// YAML renders the full configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal yaml: %w", err)
	}
	return out, nil
}
