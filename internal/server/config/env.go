package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// parseEnv overlays variables from the process environment (and a .env file
// in the working directory, if any). Unset variables leave fields untouched.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
