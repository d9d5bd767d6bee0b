package ipfs

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/arkvault/arkvault-backend/internal/platform/envutil"
)

// Config points the content store at the web3-storage sidecar and the
// ordered list of public gateways tried when the sidecar cannot serve a
// payload. Gateways are URL templates with %s standing for the CID.
type Config struct {
	ServiceURL    string
	Gateways      []string
	MaxConcurrent int
}

const defaultMaxConcurrent = 10

var defaultGateways = []string{
	"https://%s.ipfs.w3s.link",
	"https://%s.ipfs.dweb.link",
}

type ConfigErrorCode string

const (
	ConfigErrorMissingServiceURL ConfigErrorCode = "missing_service_url"
	ConfigErrorInvalidServiceURL ConfigErrorCode = "invalid_service_url"
	ConfigErrorInvalidGateway    ConfigErrorCode = "invalid_gateway"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid ipfs config"
	}
	switch e.Code {
	case ConfigErrorMissingServiceURL:
		return "IPFS_SERVICE_URL is required"
	case ConfigErrorInvalidServiceURL:
		return fmt.Sprintf("invalid IPFS_SERVICE_URL=%q; expected absolute URL like http://web3-storage:8080", e.Value)
	case ConfigErrorInvalidGateway:
		return fmt.Sprintf("invalid gateway template %q; expected URL template containing %%s", e.Value)
	default:
		return "invalid ipfs config"
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
		ServiceURL:    strings.TrimSpace(os.Getenv("IPFS_SERVICE_URL")),
		MaxConcurrent: envutil.Int("IPFS_MAX_CONCURRENT_UPLOADS", defaultMaxConcurrent),
	}
	if raw := strings.TrimSpace(os.Getenv("IPFS_GATEWAYS")); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				cfg.Gateways = append(cfg.Gateways, g)
			}
		}
	}
	if len(cfg.Gateways) == 0 {
		cfg.Gateways = append([]string(nil), defaultGateways...)
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
	for _, g := range cfg.Gateways {
		if !strings.Contains(g, "%s") {
			return &ConfigError{Code: ConfigErrorInvalidGateway, Value: g}
		}
	}
	return nil
}
