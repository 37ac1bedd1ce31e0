package config

import (
	"encoding/base64"
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
	Lockout  LockoutConfig
	Password PasswordConfig
	Mfa      MfaConfig
	Vault    VaultConfig
	Delivery DeliveryConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	AutoMigrate       bool // run pending goose migrations on startup
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	AllowedOrigins    []string
	TrustedProxies    []string // CIDR ranges allowed to set X-Forwarded-For
	AuthRatePerMinute int      // per-IP request ceiling on the /auth surface
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	Issuer             string
	AdminToken         string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	TimingBaseDelay    time.Duration // failure responses take at least this long
	TimingJitter       time.Duration
}

// LockoutConfig parameterizes the Open -> Locked -> Open throttle machine.
// BaseDuration doubles on each repeated lockout up to MaxDuration.
type LockoutConfig struct {
	Threshold    int
	BaseDuration time.Duration
	MaxDuration  time.Duration
}

type PasswordConfig struct {
	MinLength    int
	MaxLength    int
	HistoryLimit int // prior hashes retained for reuse rejection
}

type MfaConfig struct {
	TOTPIssuer      string
	BackupCodeCount int
	OtpDigits       int
	OtpTTL          time.Duration
}

// VaultConfig carries the key ring. Keys is the parsed
// "version:base64key" list; every key must decode to exactly 32 bytes and
// ActiveVersion must be present in the ring. A bad ring aborts startup.
type VaultConfig struct {
	Keys          map[int][]byte
	ActiveVersion int
}

type DeliveryConfig struct {
	EmailProvider string // "ses" or "log"
	SmsProvider   string // "sns" or "log"
	AWSRegion     string
	EmailFrom     string
	SmsSenderID   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	vaultKeys, err := parseVaultKeys(getEnv("VAULT_KEYS", ""))
	if err != nil {
		return nil, err
	}
	activeVersion := getEnvAsInt("VAULT_ACTIVE_KEY_VERSION", highestVersion(vaultKeys))

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:    parseAllowedOrigins(env),
			TrustedProxies:    parseCSV(getEnv("TRUSTED_PROXIES", "")),
			AuthRatePerMinute: getEnvAsInt("AUTH_RATE_PER_MINUTE", 10),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			Issuer:             getEnv("TOKEN_ISSUER", "dogwalking-auth"),
			AdminToken:         getEnv("ADMIN_TOKEN", ""),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingBaseDelay:    getEnvAsDuration("AUTH_TIMING_BASE_DELAY", 200*time.Millisecond),
			TimingJitter:       getEnvAsDuration("AUTH_TIMING_JITTER", 100*time.Millisecond),
		},
		Lockout: LockoutConfig{
			Threshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			BaseDuration: getEnvAsDuration("LOCKOUT_BASE_DURATION", 5*time.Minute),
			MaxDuration:  getEnvAsDuration("LOCKOUT_MAX_DURATION", 24*time.Hour),
		},
		Password: PasswordConfig{
			MinLength:    getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
			MaxLength:    getEnvAsInt("PASSWORD_MAX_LENGTH", 72),
			HistoryLimit: getEnvAsInt("PASSWORD_HISTORY_LIMIT", 5),
		},
		Mfa: MfaConfig{
			TOTPIssuer:      getEnv("TOTP_ISSUER", "DogWalking"),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 8),
			OtpDigits:       getEnvAsInt("MFA_OTP_DIGITS", 6),
			OtpTTL:          getEnvAsDuration("MFA_OTP_TTL", 5*time.Minute),
		},
		Vault: VaultConfig{
			Keys:          vaultKeys,
			ActiveVersion: activeVersion,
		},
		Delivery: DeliveryConfig{
			EmailProvider: getEnv("OTP_EMAIL_PROVIDER", "log"),
			SmsProvider:   getEnv("OTP_SMS_PROVIDER", "log"),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			EmailFrom:     getEnv("OTP_EMAIL_FROM", "no-reply@dogwalking.app"),
			SmsSenderID:   getEnv("OTP_SMS_SENDER_ID", "DogWalking"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Vault.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseVaultKeys parses VAULT_KEYS in "version:base64key,version:base64key"
// form into the key ring.
func parseVaultKeys(raw string) (map[int][]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("VAULT_KEYS is required")
	}

	keys := make(map[int][]byte)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("VAULT_KEYS entry %q must be version:base64key", entry)
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil || version < 1 {
			return nil, fmt.Errorf("VAULT_KEYS entry %q has invalid version", entry)
		}
		key, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("VAULT_KEYS version %d is not valid base64: %w", version, err)
		}
		if _, exists := keys[version]; exists {
			return nil, fmt.Errorf("VAULT_KEYS version %d appears more than once", version)
		}
		keys[version] = key
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("VAULT_KEYS is required")
	}

	return keys, nil
}

func highestVersion(keys map[int][]byte) int {
	highest := 0
	for v := range keys {
		if v > highest {
			highest = v
		}
	}
	return highest
}

// validate enforces the key ring contract. A missing active key is the
// fatal KeyNotFound configuration class and must abort startup.
func (vc *VaultConfig) validate() error {
	for version, key := range vc.Keys {
		if len(key) != 32 {
			return fmt.Errorf("vault key version %d must be exactly 32 bytes, got %d", version, len(key))
		}
	}
	if _, ok := vc.Keys[vc.ActiveVersion]; !ok {
		return fmt.Errorf("vault active key version %d is not present in VAULT_KEYS", vc.ActiveVersion)
	}
	return nil
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
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
