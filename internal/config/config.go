package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string
	ServiceName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StateMaxAge   time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
	GitHubScopes       []string

	JWTPrivateKeyFile string
	JWTPublicKeyFile  string
	JWTKeyID          string
	JWTIssuer         string
	JWTAudience       string
	JWTExpiry         time.Duration
	JWTClockTolerance time.Duration

	TokenEncryptionKey      []byte
	RefreshThreshold        time.Duration
	RevocationRetentionDays int
	RotationIntervalDays    map[string]int

	BootstrapServiceID  string
	BootstrapServiceKey string

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	clientID := strings.TrimSpace(os.Getenv("GITHUB_CLIENT_ID"))
	if clientID == "" {
		return Config{}, fmt.Errorf("GITHUB_CLIENT_ID is required")
	}
	clientSecret := strings.TrimSpace(os.Getenv("GITHUB_CLIENT_SECRET"))
	if clientSecret == "" {
		return Config{}, fmt.Errorf("GITHUB_CLIENT_SECRET is required")
	}
	callbackURL := strings.TrimSpace(os.Getenv("GITHUB_CALLBACK_URL"))
	if callbackURL == "" {
		return Config{}, fmt.Errorf("GITHUB_CALLBACK_URL is required")
	}

	encKeyHex := strings.TrimSpace(os.Getenv("TOKEN_ENCRYPTION_KEY"))
	if encKeyHex == "" {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	encKey, err := hex.DecodeString(encKeyHex)
	if err != nil {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be hex encoded")
	}
	if len(encKey) != 32 {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ServiceName: getEnv("SERVICE_NAME", "railzway-broker"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		StateMaxAge:   getDuration("OAUTH_STATE_MAX_AGE", 10*time.Minute),

		GitHubClientID:     clientID,
		GitHubClientSecret: clientSecret,
		GitHubCallbackURL:  callbackURL,
		GitHubScopes:       getList("GITHUB_SCOPES", []string{"read:user", "user:email"}),

		JWTPrivateKeyFile: strings.TrimSpace(os.Getenv("JWT_PRIVATE_KEY_FILE")),
		JWTPublicKeyFile:  strings.TrimSpace(os.Getenv("JWT_PUBLIC_KEY_FILE")),
		JWTKeyID:          getEnv("JWT_KEY_ID", "broker-signing-key"),
		JWTIssuer:         getEnv("JWT_ISSUER", "railzway-broker"),
		JWTAudience:       getEnv("JWT_AUDIENCE", "railzway"),
		JWTExpiry:         getDuration("JWT_EXPIRY", time.Hour),
		JWTClockTolerance: getDuration("JWT_CLOCK_TOLERANCE", 30*time.Second),

		TokenEncryptionKey:      encKey,
		RefreshThreshold:        getDuration("GITHUB_TOKEN_REFRESH_THRESHOLD", time.Hour),
		RevocationRetentionDays: getInt("REVOCATION_RETENTION_DAYS", 30),
		RotationIntervalDays: map[string]int{
			"jwt_signing":      getInt("JWT_KEY_ROTATION_DAYS", 90),
			"token_encryption": getInt("ENCRYPTION_KEY_ROTATION_DAYS", 180),
		},

		BootstrapServiceID:  strings.TrimSpace(os.Getenv("BOOTSTRAP_SERVICE_ID")),
		BootstrapServiceKey: os.Getenv("BOOTSTRAP_SERVICE_KEY"),

		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTPrivateKeyFile == "" || cfg.JWTPublicKeyFile == "" {
		return Config{}, fmt.Errorf("JWT_PRIVATE_KEY_FILE and JWT_PUBLIC_KEY_FILE are required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
