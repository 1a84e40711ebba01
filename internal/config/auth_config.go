package config

type AuthConfig interface {
	GetServiceEmail() string
	GetServicePassword() string
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetServiceEmail returns the service account the bot signs in with when no
// stored session survives startup.
func (Auth) GetServiceEmail() string {
	return GetEnv("SERVICE_EMAIL", "")
}

func (Auth) GetServicePassword() string {
	return GetEnv("SERVICE_PASSWORD", "")
}
