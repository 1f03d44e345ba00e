package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Indexing IndexingConfig
	Relay    RelayConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
}

// IndexingConfig holds the chain connection and engine tuning
type IndexingConfig struct {
	RPCURL            string
	WorldAddress      string
	FromBlock         uint64
	PollingInterval   time.Duration
	BlocksChunkSize   uint64
	EventsChunkSize   uint64
	IndexPending      bool
	IndexRawEvents    bool
	IndexTransactions bool
	Namespaces        []string
	HistoricalEvents  []string
	DevProvider       bool
}

// RelayConfig holds the off-chain message relay configuration
type RelayConfig struct {
	Enabled bool
	Port    int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "indexer.db"),
		},
		Indexing: IndexingConfig{
			RPCURL:            getEnv("RPC_URL", "http://localhost:5050"),
			WorldAddress:      getEnv("WORLD_ADDRESS", ""),
			FromBlock:         uint64(getEnvAsInt("FROM_BLOCK", 0)),
			PollingInterval:   getEnvAsDuration("POLLING_INTERVAL", time.Second),
			BlocksChunkSize:   uint64(getEnvAsInt("BLOCKS_CHUNK_SIZE", 10240)),
			EventsChunkSize:   uint64(getEnvAsInt("EVENTS_CHUNK_SIZE", 1024)),
			IndexPending:      getEnvAsBool("INDEX_PENDING", true),
			IndexRawEvents:    getEnvAsBool("INDEX_RAW_EVENTS", true),
			IndexTransactions: getEnvAsBool("INDEX_TRANSACTIONS", false),
			Namespaces:        getEnvAsSlice("NAMESPACES", nil),
			HistoricalEvents:  getEnvAsSlice("HISTORICAL_EVENTS", nil),
			DevProvider:       getEnvAsBool("DEV_PROVIDER", false),
		},
		Relay: RelayConfig{
			Enabled: getEnvAsBool("RELAY_ENABLED", false),
			Port:    getEnvAsInt("RELAY_PORT", 9090),
		},
	}
}

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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
