package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	OTPStoreRedis    = "redis"
	OTPStoreDynamoDB = "dynamodb"
)

// OTPCodeLength is the only code length the login flow accepts.
const OTPCodeLength = 6

type Config struct {
	AppEnv   string
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Session  SessionConfig
	Login    LoginConfig
	SMTP     SMTPConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins may call the API with the session cookie.
	AllowedOrigins []string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey    string
	AccessExpiry time.Duration
}

type OTPConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
	// Store selects the OTP backend: "redis" or "dynamodb".
	Store string
	// DisplayCode returns the generated code in the login flow view.
	// Development only; rejected when AppEnv is production.
	DisplayCode bool
}

type SessionConfig struct {
	TTL        time.Duration
	CookieName string
	Secure     bool
}

// LoginConfig holds the reference addresses used to pick the landing page
// after a successful login.
type LoginConfig struct {
	AdminEmail        string
	DueDiligenceEmail string
	AdminPath         string
	DueDiligencePath  string
	VendorIntakePath  string
	FlowTTL           time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether OTP codes should be delivered by email.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Load reads .env when present, then builds the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "VendorPortal"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:    getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 8*time.Hour),
		},
		OTP: OTPConfig{
			Length:      getEnvAsInt("OTP_LENGTH", OTPCodeLength),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			Store:       strings.ToLower(getEnv("OTP_STORE", OTPStoreRedis)),
			DisplayCode: getEnvAsBool("OTP_DISPLAY_CODE", true),
		},
		Session: SessionConfig{
			TTL:        getEnvAsDuration("SESSION_TTL", 12*time.Hour),
			CookieName: getEnv("SESSION_COOKIE_NAME", "vp_session"),
			Secure:     getEnvAsBool("SESSION_COOKIE_SECURE", false),
		},
		Login: LoginConfig{
			AdminEmail:        getEnv("LOGIN_ADMIN_EMAIL", "admin@vendorportal.com"),
			DueDiligenceEmail: getEnv("LOGIN_DUE_DILIGENCE_EMAIL", "duediligence@vendorportal.com"),
			AdminPath:         getEnv("LOGIN_ADMIN_PATH", "/admin"),
			DueDiligencePath:  getEnv("LOGIN_DUE_DILIGENCE_PATH", "/due-diligence"),
			VendorIntakePath:  getEnv("LOGIN_VENDOR_INTAKE_PATH", "/vendor-intake"),
			FlowTTL:           getEnvAsDuration("LOGIN_FLOW_TTL", 30*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@vendorportal.com"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length != OTPCodeLength {
		return fmt.Errorf("OTP_LENGTH must be %d, the length the login form accepts", OTPCodeLength)
	}

	if c.OTP.Store != OTPStoreRedis && c.OTP.Store != OTPStoreDynamoDB {
		return fmt.Errorf("OTP_STORE must be %q or %q, got %q", OTPStoreRedis, OTPStoreDynamoDB, c.OTP.Store)
	}

	if c.OTP.DisplayCode && c.AppEnv == "production" {
		return fmt.Errorf("OTP_DISPLAY_CODE must not be true when APP_ENV=production")
	}

	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must list at least one origin")
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS must not contain *, the session cookie is sent with credentials")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
