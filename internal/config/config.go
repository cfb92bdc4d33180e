package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
	Bans     BansConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// Raw request budget per client address on the public auth routes
	AuthRequestsPerWindow int
	AuthRequestWindow     time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	BcryptCost        int
}

// SecurityConfig holds the login throttling and challenge thresholds
type SecurityConfig struct {
	LoginMinDelay       time.Duration
	LoginRandomDelay    time.Duration
	LockWait            time.Duration
	ContentionCeiling   time.Duration
	LockIdleTimeout     time.Duration
	LockCapacity        int
	ShortWindowLimit    int
	ShortWindow         time.Duration
	LongWindowLimit     int
	LongWindow          time.Duration
	BanThreshold        int
	ForgotPasswordDelay time.Duration
	ChallengeTTL        time.Duration
	MaxVerifyAttempts   int
	ResendCooldown      time.Duration
	CleanupInterval     time.Duration
}

type EmailConfig struct {
	Transport    string // ses or log
	Region       string
	FromAddress  string
	ResetURLBase string
	ProductName  string
}

type BansConfig struct {
	Backend string // postgres or redis
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "snailpoints"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:                  getEnv("PORT", "8080"),
			Env:                   env,
			LogLevel:              getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:        parseAllowedOrigins(env),
			TrustedProxies:        getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:           getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:          getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:           getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:        getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 10*time.Second),
			AuthRequestsPerWindow: getEnvAsInt("AUTH_REQUESTS_PER_WINDOW", 30),
			AuthRequestWindow:     getEnvAsDuration("AUTH_REQUEST_WINDOW", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
		},
		Security: SecurityConfig{
			LoginMinDelay:       getEnvAsDuration("LOGIN_MIN_DELAY", time.Second),
			LoginRandomDelay:    getEnvAsDuration("LOGIN_RANDOM_DELAY", 0),
			LockWait:            getEnvAsDuration("LOGIN_LOCK_WAIT", 3*time.Second),
			ContentionCeiling:   getEnvAsDuration("CONTENTION_CEILING", 3*time.Second),
			LockIdleTimeout:     getEnvAsDuration("LOCK_IDLE_TIMEOUT", time.Minute),
			LockCapacity:        getEnvAsInt("LOCK_CAPACITY", 100_000),
			ShortWindowLimit:    getEnvAsInt("LOGIN_SHORT_WINDOW_LIMIT", 3),
			ShortWindow:         getEnvAsDuration("LOGIN_SHORT_WINDOW", time.Minute),
			LongWindowLimit:     getEnvAsInt("LOGIN_LONG_WINDOW_LIMIT", 5),
			LongWindow:          getEnvAsDuration("LOGIN_LONG_WINDOW", 5*time.Minute),
			BanThreshold:        getEnvAsInt("BAN_THRESHOLD", 30),
			ForgotPasswordDelay: getEnvAsDuration("FORGOT_PASSWORD_DELAY", 3*time.Second),
			ChallengeTTL:        getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
			MaxVerifyAttempts:   getEnvAsInt("MAX_VERIFY_ATTEMPTS", 3),
			ResendCooldown:      getEnvAsDuration("RESEND_COOLDOWN", 5*time.Minute),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", time.Minute),
		},
		Email: EmailConfig{
			Transport:    getEnv("EMAIL_TRANSPORT", "log"),
			Region:       getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM", "noreply@snailpoints.local"),
			ResetURLBase: getEnv("RESET_URL_BASE", "http://localhost:5173/resetpassword"),
			ProductName:  getEnv("PRODUCT_NAME", "SnailPoints"),
		},
		Bans: BansConfig{
			Backend: getEnv("BAN_BACKEND", "postgres"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validate rejects thresholds that would disable a protection and unknown backends
func (c *Config) validate() error {
	var errs []error

	s := c.Security
	positiveDurations := map[string]time.Duration{
		"LOGIN_MIN_DELAY":       s.LoginMinDelay,
		"LOGIN_LOCK_WAIT":       s.LockWait,
		"CONTENTION_CEILING":    s.ContentionCeiling,
		"LOCK_IDLE_TIMEOUT":     s.LockIdleTimeout,
		"LOGIN_SHORT_WINDOW":    s.ShortWindow,
		"LOGIN_LONG_WINDOW":     s.LongWindow,
		"FORGOT_PASSWORD_DELAY": s.ForgotPasswordDelay,
		"CHALLENGE_TTL":         s.ChallengeTTL,
		"RESEND_COOLDOWN":       s.ResendCooldown,
		"CLEANUP_INTERVAL":      s.CleanupInterval,
		"AUTH_REQUEST_WINDOW":   c.Server.AuthRequestWindow,
	}
	for name, d := range positiveDurations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	positiveInts := map[string]int{
		"LOCK_CAPACITY":            s.LockCapacity,
		"LOGIN_SHORT_WINDOW_LIMIT": s.ShortWindowLimit,
		"LOGIN_LONG_WINDOW_LIMIT":  s.LongWindowLimit,
		"BAN_THRESHOLD":            s.BanThreshold,
		"MAX_VERIFY_ATTEMPTS":      s.MaxVerifyAttempts,
		"AUTH_REQUESTS_PER_WINDOW": c.Server.AuthRequestsPerWindow,
	}
	for name, v := range positiveInts {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if s.LoginRandomDelay < 0 {
		errs = append(errs, fmt.Errorf("LOGIN_RANDOM_DELAY cannot be negative"))
	}

	switch c.Email.Transport {
	case "ses", "log":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_TRANSPORT must be ses or log (got %q)", c.Email.Transport))
	}
	if c.Email.Transport == "log" && c.Server.Env == "production" {
		errs = append(errs, fmt.Errorf("EMAIL_TRANSPORT=log is not allowed in production"))
	}

	switch c.Bans.Backend {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("BAN_BACKEND must be postgres or redis (got %q)", c.Bans.Backend))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS") // no origins unless configured
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
