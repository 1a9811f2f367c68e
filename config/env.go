package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvOwner         = "FLASHARB_OWNER"
	EnvRPCEndpoint   = "FLASHARB_RPC_ENDPOINT"
	EnvRedisAddr     = "FLASHARB_REDIS_ADDR"
	EnvRedisPassword = "FLASHARB_REDIS_PASSWORD"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable and errors when it is unset
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// ApplyEnvOverrides replaces config values with their environment
// counterparts where those are set. Secrets such as the redis password are
// expected to arrive this way rather than through the config file.
func (c *Config) ApplyEnvOverrides() {
	if owner := os.Getenv(EnvOwner); common.IsHexAddress(owner) {
		c.Owner = common.HexToAddress(owner)
	}
	if endpoint := os.Getenv(EnvRPCEndpoint); endpoint != "" {
		c.RPCEndpoint = endpoint
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		c.Redis.Password = password
	}
}
