package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	Game     GameConfig
}

type ServerConfig struct {
	Address        string
	Environment    string
	AllowedOrigins []string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// PostgresConfig drives the optional event journal. An empty DSN disables it.
type PostgresConfig struct {
	DSN string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type GameConfig struct {
	// WolfVoteSeconds is the deadline for the wolf meeting; when it elapses
	// the vote finalizes with whatever votes are on hand.
	WolfVoteSeconds int
	// StepTimeoutSeconds, when non-zero, auto-writes a skip action for a
	// role that never acts. Zero disables the per-step deadline.
	StepTimeoutSeconds int
	// RoomIdleMinutes is how long a room may sit without activity before
	// the janitor closes it.
	RoomIdleMinutes int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:        getEnv("SERVER_ADDRESS", ":8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			ExpiryHours: getEnvAsInt("JWT_EXPIRY_HOURS", 24),
		},
		Game: GameConfig{
			WolfVoteSeconds:    getEnvAsInt("WOLF_VOTE_SECONDS", 45),
			StepTimeoutSeconds: getEnvAsInt("STEP_TIMEOUT_SECONDS", 0),
			RoomIdleMinutes:    getEnvAsInt("ROOM_IDLE_MINUTES", 30),
		},
	}

	if cfg.Server.Environment == "production" {
		if cfg.JWT.Secret == "your-secret-key-change-in-production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
	}

	if cfg.Game.WolfVoteSeconds <= 0 {
		return nil, fmt.Errorf("WOLF_VOTE_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
