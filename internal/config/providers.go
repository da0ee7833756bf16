package config

import (
	"os"

	"github.com/clearfunds/backend/internal/providers"
)

const (
	dwollaSandboxURL = "https://api-sandbox.dwolla.com"
	proxySandboxURL  = "https://sandbox.proxypay.example.com"
)

// LoadDwollaConfig builds the direct-provider config from the environment.
func LoadDwollaConfig() providers.Config {
	return providers.Config{
		BaseURL:       getEnv("DWOLLA_BASE_URL", dwollaSandboxURL),
		Key:           getEnv("DWOLLA_KEY", ""),
		Secret:        getEnv("DWOLLA_SECRET", ""),
		WebhookSecret: getEnv("DWOLLA_WEBHOOK_SECRET", ""),
		Environment:   getEnv("DWOLLA_ENVIRONMENT", "sandbox"),
	}
}

// LoadProxyConfig builds the proxied-provider config from the environment.
// The proxy has no webhook channel, so no webhook secret is read.
func LoadProxyConfig() providers.Config {
	return providers.Config{
		BaseURL:     getEnv("PROXY_BASE_URL", proxySandboxURL),
		Key:         getEnv("PROXY_CLIENT_ID", ""),
		Secret:      getEnv("PROXY_CLIENT_SECRET", ""),
		Environment: getEnv("PROXY_ENVIRONMENT", "sandbox"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
