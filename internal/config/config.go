// Package config loads server configuration from the environment, with an
// optional .env overlay for local development.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	DSN       string `envconfig:"DB_DSN" required:"true"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	UploadDir string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads a .env file if one exists, then resolves Config from the
// environment. Missing required keys (DB_DSN, JWT_SECRET) fail startup.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
