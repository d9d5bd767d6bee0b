package ledger

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Config points the adapter at the chain gateway sidecar, which holds the
// contract binding and (for server custody) the signing key. The server
// wallet address is needed locally to verify transaction senders.
type Config struct {
	ServiceURL   string
	ServerWallet string
}

type ConfigErrorCode string

const (
	ConfigErrorMissingServiceURL   ConfigErrorCode = "missing_service_url"
	ConfigErrorInvalidServiceURL   ConfigErrorCode = "invalid_service_url"
	ConfigErrorMissingServerWallet ConfigErrorCode = "missing_server_wallet"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid ledger config"
	}
	switch e.Code {
	case ConfigErrorMissingServiceURL:
		return "LEDGER_SERVICE_URL is required"
	case ConfigErrorInvalidServiceURL:
		return fmt.Sprintf("invalid LEDGER_SERVICE_URL=%q; expected absolute URL like http://chain-gateway:8545", e.Value)
	case ConfigErrorMissingServerWallet:
		return "SERVER_WALLET_ADDRESS is required"
	default:
		return "invalid ledger config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		ServiceURL:   strings.TrimSpace(os.Getenv("LEDGER_SERVICE_URL")),
		ServerWallet: strings.TrimSpace(os.Getenv("SERVER_WALLET_ADDRESS")),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.ServiceURL == "" {
		return &ConfigError{Code: ConfigErrorMissingServiceURL}
	}
	parsed, err := url.Parse(cfg.ServiceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidServiceURL, Value: cfg.ServiceURL, Cause: err}
	}
	if cfg.ServerWallet == "" {
		return &ConfigError{Code: ConfigErrorMissingServerWallet}
	}
	return nil
}
