package config

import "time"

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
	GetAPIRateLimit() float64
	GetAPIBurst() int
}

type API struct{}

var _ APIConfig = API{}

func (API) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "https://api.channelpulse.io")
}

func (API) GetAPITimeout() time.Duration {
	return getDuration("API_TIMEOUT", 30*time.Second)
}

// GetAPIRateLimit returns the client-side request budget in requests per
// second. Zero disables throttling.
func (API) GetAPIRateLimit() float64 {
	return getFloat("API_RATE_LIMIT", 10)
}

func (API) GetAPIBurst() int {
	return getInt("API_BURST", 20)
}
