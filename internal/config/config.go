package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB         DBConfig
	Server     ServerConfig
	SMTP       SMTPConfig
	Encryption EncryptionConfig
	Audit      AuditConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type ServerConfig struct {
	Port string
	// Host is the bare host name WebAuthn signatures are bound to.
	Host string
	// Origin is the canonical origin URL client data must carry.
	Origin string
	// FrontendURL is the browser origin allowed by CORS.
	FrontendURL string
	// ShutdownTimeout bounds how long a graceful shutdown may take before
	// open connections are dropped.
	ShutdownTimeout time.Duration
}

// SecureCookies reports whether auth cookies should carry the Secure flag.
func (s ServerConfig) SecureCookies() bool {
	return strings.HasPrefix(s.Origin, "https://")
}

type SMTPConfig struct {
	Host string
	Port int
	From string
	// DevMode logs codes instead of sending mail.
	DevMode bool
}

type EncryptionConfig struct {
	// Secret derives the AES key protecting TOTP keys and recovery codes
	// at rest.
	Secret string
}

type AuditConfig struct {
	QueueBufferSize int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "gatekey"),
			Password: getEnv("DB_PASSWORD", "gatekey_secret"),
			Name:     getEnv("DB_NAME", "gatekey"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "localhost"),
			Origin:          getEnv("SERVER_URL", "http://localhost:8080"),
			FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		SMTP: SMTPConfig{
			Host:    getEnv("SMTP_HOST", "localhost"),
			Port:    getEnvAsInt("SMTP_PORT", 587),
			From:    getEnv("MAIL_FROM", "no-reply@gatekey.local"),
			DevMode: getEnvAsBool("SMTP_DEV_MODE", true),
		},
		Encryption: EncryptionConfig{
			Secret: getEnv("ENCRYPTION_SECRET", "change-me-in-production"),
		},
		Audit: AuditConfig{
			QueueBufferSize: getEnvAsInt("AUDIT_QUEUE_BUFFER_SIZE", 100),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
