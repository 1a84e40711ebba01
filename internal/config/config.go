package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	APIConfig
	TelegramConfig
	StoreConfig
	AuthConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLogPretty() bool
	GetMetricsAddr() string
}

type mainConfig struct {
	EnvVars
	API
	Telegram
	Store
	Auth
}

func New() Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()
	return mainConfig{}
}
