package config

import (
	"encoding/base64"
	"os"
)

const (
	// StoreBackendFile keeps the session in a JSON file on disk.
	StoreBackendFile = "file"
	// StoreBackendRedis keeps the session in redis, shared between processes.
	StoreBackendRedis = "redis"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetCredentialsFile() string
	GetSealKey() []byte
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", StoreBackendFile)
}

func (Store) GetCredentialsFile() string {
	return GetEnv("CREDENTIALS_FILE", "./data/session.json")
}

// GetSealKey returns the file store encryption key, decoded from the
// base64 SEAL_KEY variable. Nil means the session file stays plaintext.
func (Store) GetSealKey() []byte {
	encoded := os.Getenv("SEAL_KEY")
	if encoded == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return key
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return getInt("REDIS_DB", 0)
}

func (Store) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "channelpulse")
}
