// Package config loads service configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const defaultSecret = "change-me"

// Config is the root configuration. Sources, highest priority first:
//  1. explicit path from --config;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment only.
//
// Environment variables always overlay file values. A .env file in the
// working directory is loaded into the environment first when present.
type Config struct {
	Env           string          `yaml:"env" env:"ENV" env-default:"local"`
	PublicBaseURL string          `yaml:"public_base_url" env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080/"`
	HTTP          HTTPConfig      `yaml:"http"`
	DB            DBConfig        `yaml:"db"`
	Auth          AuthConfig      `yaml:"auth"`
	Redis         RedisConfig     `yaml:"redis"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Mail          MailConfig      `yaml:"mail"`
	Avatars       AvatarConfig    `yaml:"avatars"`
	CORS          CORSConfig      `yaml:"cors"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"8s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

type DBConfig struct {
	Adapter       string `yaml:"adapter" env:"DB_ADAPTER" env-default:"postgres"`
	SQLiteFile    string `yaml:"sqlite_file" env:"SQLITE_FILE" env-default:"./data/contacts.db"`
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"./migrations"`
	AutoMigrate   bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
	// PostgreSQL connection settings
	PostgresDSN      string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	PostgresHost     string `yaml:"postgres_host" env:"POSTGRES_HOST" env-default:"localhost"`
	PostgresPort     string `yaml:"postgres_port" env:"POSTGRES_PORT" env-default:"5432"`
	PostgresUser     string `yaml:"postgres_user" env:"POSTGRES_USER" env-default:"contacts"`
	PostgresPassword string `yaml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `yaml:"postgres_db" env:"POSTGRES_DB" env-default:"contacts"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me"`
	Algorithm       string        `yaml:"algorithm" env:"JWT_ALGORITHM" env-default:"HS256"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	EmailTokenTTL   time.Duration `yaml:"email_token_ttl" env:"EMAIL_TOKEN_TTL" env-default:"168h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"168h"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// RedisConfig is optional; an empty URL keeps rate limiting in process.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Requests int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"5"`
	Window   time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"60s"`
}

// MailConfig is optional; without a host, outgoing mail is only logged.
type MailConfig struct {
	Host     string `yaml:"host" env:"MAIL_SERVER"`
	Port     int    `yaml:"port" env:"MAIL_PORT" env-default:"587"`
	Username string `yaml:"username" env:"MAIL_USERNAME"`
	Password string `yaml:"password" env:"MAIL_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM" env-default:"no-reply@localhost"`
	FromName string `yaml:"from_name" env:"MAIL_FROM_NAME" env-default:"Contacts API"`
}

// AvatarConfig points at an S3-compatible bucket. Without an endpoint avatar
// uploads are disabled and users keep their Gravatar image.
type AvatarConfig struct {
	Endpoint      string `yaml:"endpoint" env:"AVATAR_ENDPOINT"`
	AccessKey     string `yaml:"access_key" env:"AVATAR_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"AVATAR_SECRET_KEY"`
	Bucket        string `yaml:"bucket" env:"AVATAR_BUCKET" env-default:"avatars"`
	UseSSL        bool   `yaml:"use_ssl" env:"AVATAR_USE_SSL" env-default:"false"`
	PublicBaseURL string `yaml:"public_base_url" env:"AVATAR_PUBLIC_BASE_URL"`
	MaxSizeBytes  int64  `yaml:"max_size_bytes" env:"AVATAR_MAX_SIZE_BYTES" env-default:"5242880"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*" env-separator:","`
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *DBConfig) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// Load reads the configuration following the precedence documented on Config
// and validates it.
func Load(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config %q: %w", p, err)
		}
		return nil
	}

	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := readFile("local.yaml"); err != nil {
				return nil, err
			}
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Adapter {
	case "postgres":
		dsn, err := c.DB.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.DB.PostgresDSN = dsn
	case "sqlite":
		if c.DB.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DB.Adapter)
	}

	if c.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == defaultSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}

	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM: %s (supported: HS256, HS384, HS512)", c.Auth.Algorithm)
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.EmailTokenTTL <= 0 || c.Auth.ResetTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}

	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.HTTP.Port)
	}

	if !strings.HasSuffix(c.PublicBaseURL, "/") {
		c.PublicBaseURL += "/"
	}
	return nil
}
