// Package config loads the service configuration with viper.
//
// Sources, lowest to highest precedence: defaults, optional config.yaml,
// environment. Every key can be set as FLIGHTQUOTE_<KEY> with dots turned
// into underscores (cache.url becomes FLIGHTQUOTE_CACHE_URL). The legacy
// variables AMAD_CLIENT_ID, AMAD_CLIENT_SECRET, REDIS_URL and PORT are
// honored too.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "FLIGHTQUOTE"

// UpstreamConfig holds identity provider and flight API settings.
type UpstreamConfig struct {
	TokenURL     string        `mapstructure:"token_url"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scope        string        `mapstructure:"scope"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// CacheConfig holds external token cache settings.
type CacheConfig struct {
	// URL selects the external cache, see cache.New. Empty disables it.
	URL       string        `mapstructure:"url"`
	Key       string        `mapstructure:"key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl"`
}

// TokenConfig holds token lifetime settings.
type TokenConfig struct {
	ExpiryBuffer        time.Duration `mapstructure:"expiry_buffer"`
	MinTTL              time.Duration `mapstructure:"min_ttl"`
	DisableSingleFlight bool          `mapstructure:"disable_singleflight"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
}

// Config holds all configuration for the application.
type Config struct {
	Port            int            `mapstructure:"port"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
	Log             LogConfig      `mapstructure:"log"`
	Upstream        UpstreamConfig `mapstructure:"upstream"`
	Cache           CacheConfig    `mapstructure:"cache"`
	Token           TokenConfig    `mapstructure:"token"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Loader reads configuration and notifies file changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. Config file lookup uses
// FLIGHTQUOTE_CONFIG_NAME (default "config") in FLIGHTQUOTE_CONFIG_PATH
// and the working directory.
func NewLoader() *Loader {
	v := viper.New()

	name := os.Getenv(envPrefix + "_CONFIG_NAME")
	if name == "" {
		name = "config"
	}
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if path := os.Getenv(envPrefix + "_CONFIG_PATH"); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindLegacy(v, "upstream.client_id", "AMAD_CLIENT_ID")
	bindLegacy(v, "upstream.client_secret", "AMAD_CLIENT_SECRET")
	bindLegacy(v, "cache.url", "REDIS_URL")
	bindLegacy(v, "port", "PORT")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)
	v.SetDefault("upstream.token_url", "https://api.amadeus.com/v1/security/oauth2/token")
	v.SetDefault("upstream.api_base_url", "https://api.amadeus.com")
	v.SetDefault("upstream.client_id", "")
	v.SetDefault("upstream.client_secret", "")
	v.SetDefault("upstream.scope", "")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("cache.url", "")
	v.SetDefault("cache.key", "access_token")
	v.SetDefault("cache.timeout", 2*time.Second)
	v.SetDefault("cache.memory_ttl", 5*time.Minute)
	v.SetDefault("token.expiry_buffer", 60*time.Second)
	v.SetDefault("token.min_ttl", 60*time.Second)
	v.SetDefault("token.disable_singleflight", false)
}

// bindLegacy binds key to the prefixed variable first, then to legacy.
func bindLegacy(v *viper.Viper, key, legacy string) {
	prefixed := envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
	// BindEnv only fails without arguments
	_ = v.BindEnv(key, prefixed, legacy)
}

// Load reads the configuration. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the config file path, empty when none was found.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes, or onError when it cannot be decoded. It does nothing if no
// config file was loaded.
func (l *Loader) Watch(onChange func(fsnotify.Event, *Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			onError(err)
			return
		}
		onChange(e, cfg)
	})
	l.v.WatchConfig()
}
