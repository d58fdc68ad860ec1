// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type     string // "postgres", "mongo" or "memory"
	URI      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// MessagingConfig holds the behavioral knobs of the messaging engine.
type MessagingConfig struct {
	TypingDebounce time.Duration
	UploadDir      string
	MaxUploadBytes int64
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Messaging      *MessagingConfig
	JWTSecret      string
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:    "postgres",
		Port:    5432,
		SSLMode: "require",
	}
}

// DefaultMessagingConfig provides default messaging settings
func DefaultMessagingConfig() *MessagingConfig {
	return &MessagingConfig{
		TypingDebounce: 2 * time.Second,
		UploadDir:      "uploads",
		MaxUploadBytes: 25 << 20, // 25 MiB
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env from the usual locations; a missing file is fine,
	// environment variables alone are enough.
	envLocations := []string{
		".env",
		"../../.env",
	}
	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		_ = godotenv.Load()
	}

	serverConfig := DefaultConfig()

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			serverConfig.Port = port
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}
	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}

	dbConfig := DefaultDatabaseConfig()
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		dbConfig.Type = dbType
	}

	switch dbConfig.Type {
	case "postgres":
		// Prioritize DATABASE_URL if provided
		if uri := os.Getenv("DATABASE_URL"); uri != "" {
			dbConfig.URI = uri
			dbConfig.SSLMode = getSSLModeFromURI(uri)
		} else {
			dbConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
			if portStr := os.Getenv("DB_PORT"); portStr != "" {
				if port, err := strconv.Atoi(portStr); err == nil {
					dbConfig.Port = port
				}
			}
			dbConfig.User = os.Getenv("DB_USER")
			if dbConfig.User == "" {
				return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
			}
			dbConfig.Password = os.Getenv("DB_PASSWORD")
			if dbConfig.Password == "" {
				return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
			}
			dbConfig.Name = getEnvOrDefault("DB_NAME", "postgres")
			dbConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", "require")

			dbConfig.URI = fmt.Sprintf(
				"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
				dbConfig.User,
				dbConfig.Password,
				dbConfig.Host,
				dbConfig.Port,
				dbConfig.Name,
				dbConfig.SSLMode,
			)
		}
	case "mongo":
		uri := os.Getenv("MONGODB_URI")
		if uri == "" {
			return nil, fmt.Errorf("MONGODB_URI environment variable is required when DB_TYPE is mongo")
		}
		dbConfig.URI = uri
	case "memory":
		// Nothing to configure; used by tests and the simulator.
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (expected postgres, mongo or memory)", dbConfig.Type)
	}

	messagingConfig := DefaultMessagingConfig()
	if debounceStr := os.Getenv("TYPING_DEBOUNCE"); debounceStr != "" {
		if debounce, err := time.ParseDuration(debounceStr); err == nil && debounce > 0 {
			messagingConfig.TypingDebounce = debounce
		}
	}
	if uploadDir := os.Getenv("UPLOAD_DIR"); uploadDir != "" {
		messagingConfig.UploadDir = uploadDir
	}
	if maxStr := os.Getenv("MAX_UPLOAD_BYTES"); maxStr != "" {
		if limit, err := strconv.ParseInt(maxStr, 10, 64); err == nil && limit > 0 {
			messagingConfig.MaxUploadBytes = limit
		}
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Messaging:      messagingConfig,
		JWTSecret:      getEnvOrDefault("JWT_SECRET", "bayou_dm_dev_secret"),
		AllowedOrigins: []string{"*"},
		Debug:          false,
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}
	if debug := os.Getenv("DEBUG"); debug == "true" {
		config.Debug = true
	}

	return config, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	if strings.Contains(uri, "sslmode=") {
		parts := strings.Split(uri, "?")
		if len(parts) > 1 {
			queryParams := strings.Split(parts[1], "&")
			for _, param := range queryParams {
				kv := strings.SplitN(param, "=", 2)
				if len(kv) == 2 && kv[0] == "sslmode" {
					return kv[1]
				}
			}
		}
	}
	return "require"
}
