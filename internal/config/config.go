package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds Core process configuration
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Database
	DatabasePath string

	// Security
	MasterSecret string
	JWTExpiryMin int

	// Message Bus (NATS)
	NATSURL      string
	NATSCertFile string
	NATSKeyFile  string
	NATSCAFile   string

	// Redis (fingerprint cache)
	RedisURL string

	// LLM Analyzer (Ollama runs locally for on-premise data security)
	OllamaURL   string
	OllamaModel string

	// Threat intelligence feeds
	OTXAPIKey       string
	TIFetchInterval int // seconds between feed refresh cycles
	TIIOCTTL        int // cache TTL for feed-sourced IOCs, seconds

	// Certificate authority material
	CACertPath string
	CAKeyPath  string

	// Backups (disabled when bucket is empty)
	BackupBucket   string
	BackupEndpoint string
	BackupRegion   string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnvAsInt("CORE_PORT", 8000),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/naga7.db"),
		MasterSecret:    getEnv("MASTER_SECRET", ""),
		JWTExpiryMin:    getEnvAsInt("JWT_EXPIRY_MINUTES", 30),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCertFile:    getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:     getEnv("NATS_KEY_FILE", ""),
		NATSCAFile:      getEnv("NATS_CA_FILE", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3"),
		OTXAPIKey:       getEnv("OTX_API_KEY", ""),
		TIFetchInterval: getEnvAsInt("TI_FETCH_INTERVAL", 3600),
		TIIOCTTL:        getEnvAsInt("TI_IOC_TTL", 86400),
		CACertPath:      getEnv("CA_CERT_PATH", "./certs/core-ca.crt"),
		CAKeyPath:       getEnv("CA_KEY_PATH", "./certs/core-ca.key"),
		BackupBucket:    getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:  getEnv("BACKUP_ENDPOINT", ""),
		BackupRegion:    getEnv("BACKUP_REGION", "auto"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
// Core refuses to start without its master secret outside dev mode.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.MasterSecret == "" && !c.DevMode {
		return fmt.Errorf("MASTER_SECRET is required")
	}
	if c.OllamaURL == "" {
		return fmt.Errorf("OLLAMA_URL is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
