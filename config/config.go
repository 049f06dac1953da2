package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/netutil"
)

const EnvPrefix = "ROUTER"

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StrategyLeastConn  = "least-conn"
	StrategyRoundRobin = "round-robin"
	StrategyRandom     = "random"
)

const (
	FramingSingleRead = "single-read"
	FramingEOF        = "eof"
)

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	Environment    string `mapstructure:"environment"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RouterConfig struct {
	BufferSize     int    `mapstructure:"buffer_size"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
	IOTimeout      string `mapstructure:"io_timeout"`
	Framing        string `mapstructure:"framing"`
	MaxMessageSize int64  `mapstructure:"max_message_size"`
}

type PortRangeConfig struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
}

type HealthCheckConfig struct {
	Interval    string          `mapstructure:"interval"`
	Timeout     string          `mapstructure:"timeout"`
	Host        string          `mapstructure:"host"`
	PortRange   PortRangeConfig `mapstructure:"port_range"`
	Backends    []string        `mapstructure:"backends"`
	Concurrency int             `mapstructure:"concurrency"`
	PruneStale  bool            `mapstructure:"prune_stale"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Router      RouterConfig      `mapstructure:"router"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// RegisterFlags adds the command-line flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("address", "", "router listen address (server.address)")
	fs.String("strategy", "", "backend selection strategy (strategy.type)")
	fs.String("log-level", "", "log level (logging.level)")
}

var flagKeys = map[string]string{
	"address":   "server.address",
	"strategy":  "strategy.type",
	"log-level": "logging.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.max_connections", 0)

	v.SetDefault("router.buffer_size", 1024)
	v.SetDefault("router.connect_timeout", "2s")
	v.SetDefault("router.io_timeout", "10s")
	v.SetDefault("router.framing", FramingSingleRead)
	v.SetDefault("router.max_message_size", 1<<20)

	v.SetDefault("health_check.interval", "5s")
	v.SetDefault("health_check.timeout", "1s")
	v.SetDefault("health_check.host", "127.0.0.1")
	v.SetDefault("health_check.port_range.start", 9001)
	v.SetDefault("health_check.port_range.end", 9009)
	v.SetDefault("health_check.backends", []string{})
	v.SetDefault("health_check.concurrency", 16)
	v.SetDefault("health_check.prune_stale", false)

	v.SetDefault("strategy.type", StrategyLeastConn)

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9100")
}

// Load reads defaults, then the YAML file at path (or config.yaml in ./config
// or . when path is empty), then ROUTER_* environment variables, then any
// flags set in fs. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Router),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Strategy),
		validation.Field(&c.Logging),
		validation.Field(&c.Metrics),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address,
			validation.Required,
			netutil.ListenAddress,
		),
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.MaxConnections,
			validation.Min(0),
		),
	)
}

func (r RouterConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BufferSize,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(&r.ConnectTimeout,
			validation.Required,
			validation.By(validateDuration),
		),
		validation.Field(&r.IOTimeout,
			validation.Required,
			validation.By(validateDuration),
		),
		validation.Field(&r.Framing,
			validation.Required,
			validation.In(FramingSingleRead, FramingEOF),
		),
		validation.Field(&r.MaxMessageSize,
			validation.Required,
			validation.Min(int64(1)),
		),
	)
}

func (h HealthCheckConfig) Validate() error {
	usesRange := len(h.Backends) == 0

	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval,
			validation.Required,
			validation.By(validateDuration),
		),
		validation.Field(&h.Timeout,
			validation.Required,
			validation.By(validateDuration),
			validation.By(h.validateTimeoutBelowInterval),
		),
		validation.Field(&h.Host,
			validation.When(usesRange, validation.Required, is.Host),
		),
		validation.Field(&h.PortRange,
			validation.When(usesRange, validation.By(validatePortRange)),
		),
		validation.Field(&h.Backends,
			validation.Each(validation.By(validateBackendAddress)),
		),
		validation.Field(&h.Concurrency,
			validation.Required,
			validation.Min(1),
		),
	)
}

func (s StrategyConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type,
			validation.Required,
			validation.In(StrategyLeastConn, StrategyRoundRobin, StrategyRandom),
		),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Address,
			validation.When(m.Enabled, validation.Required, netutil.ListenAddress),
		),
	)
}

// Candidates returns the probe space: the static backend list when one is
// configured, otherwise every port of the range on Host.
func (h HealthCheckConfig) Candidates() ([]backend.Address, error) {
	if len(h.Backends) > 0 {
		return backend.ParseAddresses(h.Backends)
	}
	return backend.PortRange(h.Host, h.PortRange.Start, h.PortRange.End), nil
}

func (h HealthCheckConfig) IntervalDuration() time.Duration {
	return parseDuration(h.Interval)
}

func (h HealthCheckConfig) TimeoutDuration() time.Duration {
	return parseDuration(h.Timeout)
}

func (r RouterConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(r.ConnectTimeout)
}

func (r RouterConfig) IOTimeoutDuration() time.Duration {
	return parseDuration(r.IOTimeout)
}

// parseDuration is only called on validated values; an unparsable
// string yields 0.
func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func (h HealthCheckConfig) validateTimeoutBelowInterval(value interface{}) error {
	timeout, err1 := time.ParseDuration(h.Timeout)
	interval, err2 := time.ParseDuration(h.Interval)
	if err1 != nil || err2 != nil {
		return nil
	}

	if timeout >= interval {
		return validation.NewError("validation_timeout_too_long", "must be shorter than the health check interval")
	}

	return nil
}

func validatePortRange(value interface{}) error {
	pr, ok := value.(PortRangeConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PortRangeConfig")
	}

	err := validation.ValidateStruct(&pr,
		validation.Field(&pr.Start, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&pr.End, validation.Required, validation.Min(1), validation.Max(65535)),
	)
	if err != nil {
		return err
	}

	if pr.End < pr.Start {
		return validation.NewError("validation_invalid_port_range", "end must not be below start")
	}

	return nil
}

func validateBackendAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := backend.ParseAddress(addr); err != nil {
		return validation.NewError("validation_invalid_backend", "must be host:port with a port in 1-65535")
	}

	return nil
}
