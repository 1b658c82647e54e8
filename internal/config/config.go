package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	RedisURL             string `env:"REDIS_URL"`
	DatabaseURL          string `env:"DATABASE_URL"`
	ChainID              int64  `env:"CHAIN_ID" envDefault:"97"`
	BridgeURL            string `env:"BRIDGE_URL" envDefault:"https://bridge.walletconnect.org"`
	DefaultGasLimit      string `env:"DEFAULT_GAS_LIMIT" envDefault:"0x55730"`
	DefaultGasPrice      string `env:"DEFAULT_GAS_PRICE" envDefault:"0x2540be400"`
	ConnectLimitPerMin   int    `env:"CONNECT_LIMIT_PER_MIN" envDefault:"10"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be a positive chain id, got %d", c.ChainID)
	}

	if !strings.HasPrefix(c.BridgeURL, "http://") && !strings.HasPrefix(c.BridgeURL, "https://") {
		return fmt.Errorf("BRIDGE_URL must be an http(s) URL, got %q", c.BridgeURL)
	}

	if !strings.HasPrefix(c.DefaultGasLimit, "0x") {
		return fmt.Errorf("DEFAULT_GAS_LIMIT must be a 0x-prefixed hex quantity, got %q", c.DefaultGasLimit)
	}
	if !strings.HasPrefix(c.DefaultGasPrice, "0x") {
		return fmt.Errorf("DEFAULT_GAS_PRICE must be a 0x-prefixed hex quantity, got %q", c.DefaultGasPrice)
	}

	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is empty: wallet events will only be delivered to in-process subscribers and connect rate limiting is disabled")
	}
	if c.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL is empty: transaction audit logging is disabled")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
