package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of the messaging server.
type Config struct {
	Port   string `mapstructure:"PORT"`
	GoEnv  string `mapstructure:"GO_ENV"`
	DBURL  string `mapstructure:"DATABASE_URL"`
	Redis  string `mapstructure:"REDIS_URL"`
	Secret string `mapstructure:"JWT_SECRET"`

	BusBackend        string `mapstructure:"BUS_BACKEND"`
	PresenceBackend   string `mapstructure:"PRESENCE_BACKEND"`
	AttachmentBackend string `mapstructure:"ATTACHMENT_BACKEND"`

	AttachmentDir       string `mapstructure:"ATTACHMENT_DIR"`
	AttachmentPublicURL string `mapstructure:"ATTACHMENT_PUBLIC_URL"`

	R2AccountID       string `mapstructure:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `mapstructure:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `mapstructure:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `mapstructure:"R2_BUCKET_NAME"`
	R2PublicURL       string `mapstructure:"R2_PUBLIC_URL"`

	CORSOrigins      string        `mapstructure:"CORS_ORIGINS"`
	HandshakeTimeout time.Duration `mapstructure:"HANDSHAKE_TIMEOUT"`
	OfflineQueue     string        `mapstructure:"OFFLINE_QUEUE"`

	TelegramBotToken    string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `mapstructure:"TELEGRAM_ALERT_CHAT_ID"`
	TelegramLanguage    string `mapstructure:"TELEGRAM_LANGUAGE"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// .env is optional in containers
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("DATABASE_URL", "host=localhost user=user password=password dbname=clinicdb port=5432 sslmode=disable")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("BUS_BACKEND", "memory")
	v.SetDefault("PRESENCE_BACKEND", "memory")
	v.SetDefault("ATTACHMENT_BACKEND", "disk")
	v.SetDefault("ATTACHMENT_DIR", "./media")
	v.SetDefault("ATTACHMENT_PUBLIC_URL", "/media")
	v.SetDefault("R2_ACCOUNT_ID", "")
	v.SetDefault("R2_ACCESS_KEY_ID", "")
	v.SetDefault("R2_SECRET_ACCESS_KEY", "")
	v.SetDefault("R2_BUCKET_NAME", "")
	v.SetDefault("R2_PUBLIC_URL", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("HANDSHAKE_TIMEOUT", DefaultHandshakeTimeout)
	v.SetDefault("OFFLINE_QUEUE", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_ALERT_CHAT_ID", 0)
	v.SetDefault("TELEGRAM_LANGUAGE", "uk")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.BusBackend {
	case "memory", "postgres":
	case "redis":
		if c.Redis == "" {
			return fmt.Errorf("BUS_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown BUS_BACKEND %q", c.BusBackend)
	}

	switch c.PresenceBackend {
	case "memory":
	case "redis":
		if c.Redis == "" {
			return fmt.Errorf("PRESENCE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown PRESENCE_BACKEND %q", c.PresenceBackend)
	}

	switch c.AttachmentBackend {
	case "disk":
	case "s3":
		if c.R2AccountID == "" || c.R2BucketName == "" {
			return fmt.Errorf("ATTACHMENT_BACKEND=s3 requires R2_ACCOUNT_ID and R2_BUCKET_NAME")
		}
	default:
		return fmt.Errorf("unknown ATTACHMENT_BACKEND %q", c.AttachmentBackend)
	}

	if c.OfflineQueue != "" && c.Redis == "" {
		return fmt.Errorf("OFFLINE_QUEUE requires REDIS_URL")
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN requires TELEGRAM_ALERT_CHAT_ID")
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be positive")
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}
