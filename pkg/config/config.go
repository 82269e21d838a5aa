package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// DefaultPath is read when neither an explicit path nor CONFIG_PATH is set.
const DefaultPath = "configs/config.yaml"

// DotEnvFile is loaded into the environment, if present, before the config
// is read. Variables already set in the environment win.
const DotEnvFile = ".env"

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	APIPrefix string `mapstructure:"api_prefix"`
	Debug     bool   `mapstructure:"debug"`
}

type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Header   string `mapstructure:"header"`
	APIKey   string `mapstructure:"api_key"`
	AdminKey string `mapstructure:"admin_key"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// TimeoutSeconds bounds each Cost Explorer call.
	TimeoutSeconds int `mapstructure:"timeout"`
}

func (a AWSConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type CacheConfig struct {
	// TTLSeconds is how long a summary stays cached; 0 keeps it until evicted.
	TTLSeconds int `mapstructure:"ttl"`
	MaxEntries int `mapstructure:"max_entries"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type BreakerConfig struct {
	FailureThreshold   uint32 `mapstructure:"failure_threshold"`
	OpenTimeoutSeconds int    `mapstructure:"open_timeout"`
}

func (b BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(b.OpenTimeoutSeconds) * time.Second
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix %q must start with /", c.Server.APIPrefix))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key is required when auth is enabled"))
	}
	if c.Auth.Enabled && c.Auth.Header == "" {
		errs = append(errs, errors.New("auth.header is required when auth is enabled"))
	}
	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	if c.AWS.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("aws.timeout must be positive, got %d", c.AWS.TimeoutSeconds))
	}
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %d", c.Cache.TTLSeconds))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute))
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		errs = append(errs, errors.New("redis.address is required when redis is enabled"))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

// NewStore holds a fixed configuration. Useful for tests and one-shot tools.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		cpy := *cfg
		fn(&cpy)
	}
}

// ResolvePath picks the config file: explicit path, then CONFIG_PATH, then DefaultPath.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

// LoadAndWatch loads the config and watches for on-disk changes. A missing
// file is not an error: defaults and environment variables still apply, but
// nothing is watched. A reload that fails validation keeps the previous
// configuration.
func LoadAndWatch(path string, log zerolog.Logger) (*Store, error) {
	v, found, err := newViper(ResolvePath(path))
	if err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	if found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := refresh(v, store); err != nil {
				log.Error().Err(err).Str("file", e.Name).Msg("config reload failed, keeping previous config")
			} else {
				log.Info().Str("file", e.Name).Msg("config reloaded")
			}
		})
	} else {
		log.Warn().Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults and environment")
	}

	return store, nil
}

// Load reads the configuration once without watching it.
func Load(path string) (*Config, error) {
	v, _, err := newViper(ResolvePath(path))
	if err != nil {
		return nil, err
	}
	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func newViper(path string) (*viper.Viper, bool, error) {
	if err := gotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, false, err
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, false, nil
		}
		return nil, false, fmt.Errorf("stat config %s: %w", path, err)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, false, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, true, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.debug", false)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.header", "X-API-Key")

	v.SetDefault("aws.region", "ap-southeast-1")
	v.SetDefault("aws.timeout", 30)

	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.max_entries", 100)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_timeout", 30)
}

// envNames maps config keys onto the plain variable names operators already use.
var envNames = map[string]string{
	"auth.api_key":                  "API_KEY",
	"auth.admin_key":                "ADMIN_KEY",
	"aws.profile":                   "AWS_PROFILE",
	"aws.region":                    "AWS_REGION",
	"aws.access_key_id":             "AWS_ACCESS_KEY_ID",
	"aws.secret_access_key":         "AWS_SECRET_ACCESS_KEY",
	"cache.ttl":                     "CACHE_TTL",
	"ratelimit.requests_per_minute": "RATE_LIMIT_PER_MINUTE",
	"server.debug":                  "DEBUG",
	"redis.address":                 "REDIS_ADDR",
	"redis.password":                "REDIS_PASSWORD",
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("COSTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envNames {
		if err := v.BindEnv(key, "COSTRELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	if cfg.Server.Debug && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	store.set(&cfg)
	return nil
}
