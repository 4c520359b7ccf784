package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config/config.yaml"

type ServerConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	// Driver selects the credential store: postgres, mongo or memory.
	Driver    string `yaml:"driver" env:"DB_DRIVER"`
	DSN       string `yaml:"url" env:"DATABASE_URL"`
	MongoURI  string `yaml:"mongo_uri" env:"MONGODB_URI"`
	MongoName string `yaml:"mongo_database" env:"MONGODB_DATABASE"`
}

type OTPConfig struct {
	// Store selects the challenge backend: postgres, redis, mongo or memory.
	Store         string        `yaml:"store" env:"OTP_STORE"`
	TTL           time.Duration `yaml:"ttl" env:"OTP_TTL"`
	MaxAttempts   int           `yaml:"max_attempts" env:"OTP_MAX_ATTEMPTS"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"OTP_SWEEP_INTERVAL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret" env:"JWT_SECRET"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int    `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUser     string `yaml:"smtp_user" env:"EMAIL"`
	SMTPPassword string `yaml:"smtp_password" env:"EMAIL_PASS"`
	FromEmail    string `yaml:"from_email" env:"EMAIL_FROM"`
	// AdminEmail receives a copy of every signup notice when set.
	AdminEmail string `yaml:"admin_email" env:"ADMIN_EMAIL"`
}

type SMSConfig struct {
	AccountSID string `yaml:"account_sid" env:"TWILIO_SID"`
	AuthToken  string `yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	From       string `yaml:"from" env:"TWILIO_PHONE"`
	DryRun     bool   `yaml:"dry_run" env:"SMS_DRY_RUN"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	AdminChatID int64  `yaml:"admin_chat_id" env:"TELEGRAM_ADMIN_CHAT_ID"`
}

type NotifyConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"NOTIFY_TIMEOUT"`
	MaxFailures    uint32        `yaml:"max_failures" env:"NOTIFY_MAX_FAILURES"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout" env:"NOTIFY_BREAKER_TIMEOUT"`
	// MaxInFlight caps sends per transport that are still running, including
	// ones abandoned after Timeout.
	MaxInFlight int `yaml:"max_in_flight" env:"NOTIFY_MAX_IN_FLIGHT"`
	// DryRun logs OTP codes instead of emailing them.
	DryRun bool `yaml:"dry_run" env:"NOTIFY_DRY_RUN"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	Burst     int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type LogConfig struct {
	Development bool `yaml:"development" env:"LOG_DEVELOPMENT"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	OTP       OTPConfig       `yaml:"otp"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Email     EmailConfig     `yaml:"email"`
	SMS       SMSConfig       `yaml:"sms"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Notify    NotifyConfig    `yaml:"notify"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH (or config/config.yaml),
// overlays environment variables and fills in defaults.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	return Load(path)
}

// Load is LoadConfig with an explicit path. A missing file is not an error:
// the service can be configured from the environment alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MongoName == "" {
		c.Database.MongoName = "campuspay"
	}
	if c.OTP.Store == "" {
		c.OTP.Store = c.Database.Driver
	}
	if c.OTP.TTL == 0 {
		c.OTP.TTL = 5 * time.Minute
	}
	if c.OTP.MaxAttempts == 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.JWT.AccessTTL == 0 {
		c.JWT.AccessTTL = time.Hour
	}
	if c.Email.SMTPHost == "" {
		c.Email.SMTPHost = "smtp.gmail.com"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Email.FromEmail == "" {
		c.Email.FromEmail = c.Email.SMTPUser
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Notify.MaxFailures == 0 {
		c.Notify.MaxFailures = 5
	}
	if c.Notify.BreakerTimeout == 0 {
		c.Notify.BreakerTimeout = 30 * time.Second
	}
	if c.Notify.MaxInFlight == 0 {
		c.Notify.MaxInFlight = 32
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.url (DATABASE_URL) is required for the postgres driver")
		}
	case "mongo":
		if c.Database.MongoURI == "" {
			return errors.New("database.mongo_uri (MONGODB_URI) is required for the mongo driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.OTP.Store {
	case "postgres", "mongo", "memory", "redis":
	default:
		return fmt.Errorf("unknown otp store %q", c.OTP.Store)
	}
	if c.OTP.Store == "postgres" && c.Database.DSN == "" {
		return errors.New("otp.store postgres requires database.url")
	}
	if c.OTP.Store == "mongo" && c.Database.MongoURI == "" {
		return errors.New("otp.store mongo requires database.mongo_uri")
	}

	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is required")
	}
	return nil
}
