package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/notify"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8080"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	CodeSalt    string `env:"CODE_SALT,required,notEmpty"`
	DevMode     bool   `env:"DEV_MODE"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	AppName       string        `env:"APP_NAME" envDefault:"Triple T's Rewards"`
	TOTPIssuer    string        `env:"TOTP_ISSUER" envDefault:"Triple T's Rewards"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	PendingTTL    time.Duration `env:"PENDING_TTL" envDefault:"10m"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`
	BulkLogDir    string        `env:"BULK_LOG_DIR" envDefault:"bulk_load_logs"`

	SMTP notify.SMTPConfig `envPrefix:"SMTP_"`
}

// Load reads .env files when present, then the environment. Variables already set win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env", "server/.env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}
	if cfg.SessionTTL <= 0 || cfg.PendingTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL and PENDING_TTL must be positive")
	}
	return &cfg, nil
}

// Level returns the zerolog level, info when LOG_LEVEL is unparseable
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// LogTarget logs the database the app will connect to, password masked
func (c *Config) LogTarget(logger *zerolog.Logger) {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		logger.Warn().Msg("DATABASE_URL is not a URL")
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	logger.Info().
		Str("host", host).
		Str("port", port).
		Str("db", strings.TrimPrefix(u.Path, "/")).
		Str("user", u.User.Username()).
		Msg("database target")
}
