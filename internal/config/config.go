// Package config loads weekplate settings from an optional config.yaml and
// WEEKPLATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Push     PushConfig     `mapstructure:"push"`
	Email    EmailConfig    `mapstructure:"email"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Timezone       string   `mapstructure:"timezone"`
	SecureCookies  bool     `mapstructure:"secure_cookies"`
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ArtifactConfig selects where rendered PDFs live. Backend is "file" or "s3".
type ArtifactConfig struct {
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// RedisConfig enables the shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
}

type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
}

// EmailConfig enables plan-finished emails through Postmark when
// PostmarkToken is set.
type EmailConfig struct {
	PostmarkToken string `mapstructure:"postmark_token"`
	From          string `mapstructure:"from"`
	BaseURL       string `mapstructure:"base_url"`
}

// BackupConfig encrypts database snapshots when Passphrase is set.
type BackupConfig struct {
	Passphrase string `mapstructure:"passphrase"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.origin_patterns", []string{})

	v.SetDefault("database.path", "weekplate.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("artifact.backend", "file")
	v.SetDefault("artifact.dir", "data/artifacts")
	v.SetDefault("artifact.s3.bucket", "")
	v.SetDefault("artifact.s3.region", "us-east-1")
	v.SetDefault("artifact.s3.endpoint", "")
	v.SetDefault("artifact.s3.access_key", "")
	v.SetDefault("artifact.s3.secret_key", "")
	v.SetDefault("artifact.s3.prefix", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.base_backoff", 10*time.Second)
	v.SetDefault("worker.max_backoff", 5*time.Minute)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.lease", 2*time.Minute)

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subscriber", "mailto:noreply@weekplate.app")

	v.SetDefault("email.postmark_token", "")
	v.SetDefault("email.from", "noreply@weekplate.app")
	v.SetDefault("email.base_url", "http://localhost:8080")

	v.SetDefault("backup.passphrase", "")
}

// Load reads configuration. configFile may be empty, in which case config.yaml
// is looked up in the working directory and ./configs; a missing file is not
// an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WEEKPLATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would fail later at startup.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return fmt.Errorf("invalid server.timezone %q: %w", c.Server.Timezone, err)
	}
	switch c.Artifact.Backend {
	case "file":
		if c.Artifact.Dir == "" {
			return errors.New("artifact.dir is required for the file backend")
		}
	case "s3":
		if c.Artifact.S3.Bucket == "" {
			return errors.New("artifact.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown artifact.backend %q", c.Artifact.Backend)
	}
	if c.Worker.MaxAttempts < 1 {
		return errors.New("worker.max_attempts must be at least 1")
	}
	return nil
}

// Location returns the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
