package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogPath  string
	RCONPassword string
	Servers      []string

	ReadyDefault      time.Duration
	ReadyMin          time.Duration
	ReadyMax          time.Duration
	ReadyCheckTimeout time.Duration
	MapVoteTimeout    time.Duration

	DiscoveryAttempts int
	DiscoveryInterval time.Duration
	QueryTimeout      time.Duration
	RCONTimeout       time.Duration
	RCONCloseGrace    time.Duration
}

// Load reads envFile when given, then builds the config from the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("could not load %s: %w", envFile, err)
		}
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CatalogPath:  getEnv("CATALOG_PATH", ""),
		RCONPassword: getEnv("RCON_PASSWORD", ""),
		Servers:      getEnvList("SERVERS"),

		ReadyDefault:      getEnvDuration("READY_DEFAULT", 10*time.Minute),
		ReadyMin:          getEnvDuration("READY_MIN", time.Minute),
		ReadyMax:          getEnvDuration("READY_MAX", 60*time.Minute),
		ReadyCheckTimeout: getEnvDuration("READY_CHECK_TIMEOUT", 60*time.Second),
		MapVoteTimeout:    getEnvDuration("MAP_VOTE_TIMEOUT", 60*time.Second),

		DiscoveryAttempts: getEnvInt("DISCOVERY_ATTEMPTS", 5),
		DiscoveryInterval: getEnvDuration("DISCOVERY_INTERVAL", 30*time.Second),
		QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 3*time.Second),
		RCONTimeout:       getEnvDuration("RCON_TIMEOUT", 5*time.Second),
		RCONCloseGrace:    getEnvDuration("RCON_CLOSE_GRACE", 2*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
