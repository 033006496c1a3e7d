package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr        string        `mapstructure:"ADDR"`
		Protocol    string        `mapstructure:"PROTOCOL"`
		Insecure    bool          `mapstructure:"INSECURE"`
		Compression string        `mapstructure:"COMPRESSION"`
		Timeout     time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	Scoring     Scoring     `mapstructure:"SCORING"`
	Achievement Achievement `mapstructure:"ACHIEVEMENT"`
}

// Scoring holds the knobs of the point engine. Zero values fall back to
// the defaults registered in LoadConfig.
type Scoring struct {
	BusinessOffset     time.Duration `mapstructure:"BUSINESS_OFFSET"`
	DuplicateWindow    time.Duration `mapstructure:"DUPLICATE_WINDOW"`
	DuplicateThreshold float64       `mapstructure:"DUPLICATE_THRESHOLD"`
	LockTTL            time.Duration `mapstructure:"LOCK_TTL"`
	ClaimTimeout       time.Duration `mapstructure:"CLAIM_TIMEOUT"`
}

type Achievement struct {
	FastResponseSource string `mapstructure:"FAST_RESPONSE_SOURCE"`
	TopScorerRunAt     string `mapstructure:"TOP_SCORER_RUN_AT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

var defaults = map[string]any{
	"APP_ENV":                                     "development",
	"APP_NAME":                                    "helpdesk-gamification",
	"NODE_ID":                                     1,
	"TLS.ENABLE":                                  false,
	"TLS.CERT_PATH":                               "",
	"TLS.KEY_PATH":                                "",
	"OTEL.ADDR":                                   "",
	"OTEL.PROTOCOL":                               "http",
	"OTEL.INSECURE":                               true,
	"OTEL.COMPRESSION":                            "gzip",
	"OTEL.TIMEOUT":                                "10s",
	"PYROSCOPE.ADDR":                              "",
	"HTTP_SERVER.ADDR":                            "8080",
	"HTTP_SERVER.READ_TIMEOUT":                    "15s",
	"HTTP_SERVER.WRITE_TIMEOUT":                   "15s",
	"HTTP_SERVER.IDLE_TIMEOUT":                    "60s",
	"DATABASE.TYPE":                               "postgres",
	"DATABASE.HOST":                               "localhost",
	"DATABASE.PORT":                               "5432",
	"DATABASE.DBNAME":                             "helpdesk",
	"DATABASE.USER":                               "postgres",
	"DATABASE.PASSWORD":                           "",
	"DATABASE.SSLMODE":                            "disable",
	"DATABASE.TIMEZONE":                           "UTC",
	"DATABASE.CONNECTION_POOL.MAX_IDLE_CONN":      10,
	"DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS":     50,
	"DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME":  "30m",
	"DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME": "5m",
	"REDIS.ADDR":                                  "localhost:6379",
	"REDIS.PASSWORD":                              "",
	"REDIS.DB":                                    0,
	"REDIS.POOL_SIZE":                             20,
	"REDIS.POOL_TIMEOUT":                          "5s",
	"WORKER.CONCURRENCY":                          10,
	"SCORING.BUSINESS_OFFSET":                     "2h",
	"SCORING.DUPLICATE_WINDOW":                    "48h",
	"SCORING.DUPLICATE_THRESHOLD":                 0.8,
	"SCORING.LOCK_TTL":                            "10s",
	"SCORING.CLAIM_TIMEOUT":                       "5m",
	"ACHIEVEMENT.FAST_RESPONSE_SOURCE":            "email",
	"ACHIEVEMENT.TOP_SCORER_RUN_AT":               "00:05",
}

func LoadConfig() (*Config, error) {
	config := viper.New()
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	for key, val := range defaults {
		config.SetDefault(key, val)
	}

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// WithDefaults fills unset scoring and achievement values. Services call it
// so that a hand-built Config in tests behaves like a loaded one.
func (c Scoring) WithDefaults() Scoring {
	if c.BusinessOffset == 0 {
		c.BusinessOffset = 2 * time.Hour
	}
	if c.DuplicateWindow == 0 {
		c.DuplicateWindow = 48 * time.Hour
	}
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = 0.8
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.ClaimTimeout == 0 {
		c.ClaimTimeout = 5 * time.Minute
	}
	return c
}

func (c Achievement) WithDefaults() Achievement {
	if c.FastResponseSource == "" {
		c.FastResponseSource = "email"
	}
	if c.TopScorerRunAt == "" {
		c.TopScorerRunAt = "00:05"
	}
	return c
}
