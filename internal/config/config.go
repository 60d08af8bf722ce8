package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultSizeThresholdBytes is the payload size above which values are written
// to the remote tier only. Small objects stay hot in the local tier; large
// ones would crowd it out.
const DefaultSizeThresholdBytes = 100 * 1024

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	SentryDSN string `mapstructure:"sentry_dsn"`
	Server    struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Cache struct {
		Local struct {
			Capacity int    `mapstructure:"capacity"` // Maximum number of entries in the local tier
			Policy   string `mapstructure:"policy"`   // Eviction policy: lru, lfu, ttl, adaptive
		} `mapstructure:"local"`
		SizeThresholdBytes int64 `mapstructure:"size_threshold_bytes"`
		Promotion          struct {
			AccessThreshold int64 `mapstructure:"access_threshold"` // Minimum remote access count before optimize promotes a key
			SampleLimit     int   `mapstructure:"sample_limit"`     // Maximum remote keys examined per optimize pass
			MaxConcurrent   int64 `mapstructure:"max_concurrent"`   // Bound on in-flight async promotions
		} `mapstructure:"promotion"`
		Warm struct {
			BatchSize int `mapstructure:"batch_size"`
		} `mapstructure:"warm"`
		Redis struct {
			Address     string `mapstructure:"address"`
			Password    string `mapstructure:"password"`
			DB          int    `mapstructure:"db"`
			KeyPrefix   string `mapstructure:"key_prefix"`
			Compression bool   `mapstructure:"compression"` // zstd-compress serialized entries at rest
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`
	OptimizeInterval    string `mapstructure:"optimize_interval"`     // Go duration string like "5m"
	HealthCheckInterval string `mapstructure:"health_check_interval"` // Go duration string like "30s"
}

var (
	globalConfig *Config
	logger       zerolog.Logger
)

func init() {
	// Initialize zerolog with console writer for human-readable output
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stdout,
		NoColor: false,
	}).With().Timestamp().Logger()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// Parse and set log level from config
	level := zerolog.InfoLevel // default
	if config.LogLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(config.LogLevel); err == nil {
			level = parsedLevel
		} else {
			logger.Warn().Str("invalid_level", config.LogLevel).Msg("Invalid log level, using default 'info'")
		}
	}

	// Set the global log level
	zerolog.SetGlobalLevel(level)

	// Update logger with the configured level
	logger = logger.Level(level)

	globalConfig = config
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variable support
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Add specific environment variable for log level
	_ = viper.BindEnv("log_level", "LOG_LEVEL")

	// Set defaults
	viper.SetDefault("server.address", "localhost")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("cache.local.capacity", 1000)
	viper.SetDefault("cache.local.policy", "lru")
	viper.SetDefault("cache.size_threshold_bytes", DefaultSizeThresholdBytes)
	viper.SetDefault("cache.promotion.access_threshold", 5)
	viper.SetDefault("cache.promotion.sample_limit", 100)
	viper.SetDefault("cache.promotion.max_concurrent", 8)
	viper.SetDefault("cache.warm.batch_size", 10)
	viper.SetDefault("cache.redis.address", "localhost:6379")
	viper.SetDefault("cache.redis.key_prefix", "strata:")
	viper.SetDefault("cache.redis.compression", false)
	viper.SetDefault("optimize_interval", "5m")
	viper.SetDefault("health_check_interval", "30s")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func GetConfig() *Config {
	return globalConfig
}

func GetLogger() zerolog.Logger {
	return logger
}
