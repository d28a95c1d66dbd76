// Package config loads service configuration with Viper.
//
// Values come from defaults, a config.yml found next to the service's
// command (or given explicitly), an optional .env file loaded with
// godotenv, and prefixed environment variables, in increasing precedence:
//
//	var cfg AppConfig
//	err := config.LoadConfig("rowstream", &cfg, config.WithConfigFile(path))
//
// ServiceConfig holds the fields shared by every binary and is embedded by
// application configs.
package config
