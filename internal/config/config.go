package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Port        string `env:"SERVER_PORT" envDefault:"8080"`
	Env         string `env:"ENVIRONMENT" envDefault:"development"`

	GenerationStream string `env:"GENERATION_STREAM" envDefault:"atelier.generation"`
	TrainingStream   string `env:"TRAINING_STREAM" envDefault:"atelier.training"`

	// WelcomeGrant is the signup bonus credited to new accounts. Zero
	// disables the grant.
	WelcomeGrant int64 `env:"WELCOME_GRANT" envDefault:"50"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
