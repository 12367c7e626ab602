// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - the default .env file is loaded once, when present
//   - additional files can be loaded explicitly with LoadEnv
//   - structs are populated from `env` and `envDefault` field tags
//   - each configuration type is parsed once and cached for the process lifetime
//   - structs implementing Validator are checked before they are cached
//
// # Usage
//
//	type Config struct {
//		ConnURL string `env:"PG_CONN_URL,required"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Failed loads are not cached, so fixing the environment and calling Load again works.
// Reset clears the cache and is meant for tests.
package config
