package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkvault/arkvault-backend/internal/ipfs"
	"github.com/arkvault/arkvault-backend/internal/ledger"
	"github.com/arkvault/arkvault-backend/internal/pending"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
	"github.com/arkvault/arkvault-backend/internal/platform/envutil"
)

type Config struct {
	IPFS       ipfs.Config
	Ledger     ledger.Config
	PendingTTL time.Duration
}

// fileConfig is the optional CONFIG_FILE overlay. Only fields present in
// the file override the environment.
type fileConfig struct {
	IPFS struct {
		ServiceURL           string   `yaml:"service_url"`
		Gateways             []string `yaml:"gateways"`
		MaxConcurrentUploads int      `yaml:"max_concurrent_uploads"`
	} `yaml:"ipfs"`
	Ledger struct {
		ServiceURL   string `yaml:"service_url"`
		ServerWallet string `yaml:"server_wallet"`
	} `yaml:"ledger"`
	PendingTTLSeconds int `yaml:"pending_ttl_seconds"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	ipfsCfg, err := ipfs.ResolveConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	ledgerCfg, err := ledger.ResolveConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		IPFS:       ipfsCfg,
		Ledger:     ledgerCfg,
		PendingTTL: time.Duration(envutil.Int("PENDING_TX_TTL_SECONDS", int(pending.DefaultTTL/time.Second))) * time.Second,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyOverlay(&cfg, fc)
		log.Info("Applied config file overlay", "path", path)
	}

	if err := ipfs.ValidateConfig(cfg.IPFS); err != nil {
		return Config{}, err
	}
	if err := ledger.ValidateConfig(cfg.Ledger); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyOverlay(cfg *Config, fc fileConfig) {
	if fc.IPFS.ServiceURL != "" {
		cfg.IPFS.ServiceURL = fc.IPFS.ServiceURL
	}
	if len(fc.IPFS.Gateways) > 0 {
		cfg.IPFS.Gateways = fc.IPFS.Gateways
	}
	if fc.IPFS.MaxConcurrentUploads > 0 {
		cfg.IPFS.MaxConcurrent = fc.IPFS.MaxConcurrentUploads
	}
	if fc.Ledger.ServiceURL != "" {
		cfg.Ledger.ServiceURL = fc.Ledger.ServiceURL
	}
	if fc.Ledger.ServerWallet != "" {
		cfg.Ledger.ServerWallet = fc.Ledger.ServerWallet
	}
	if fc.PendingTTLSeconds > 0 {
		cfg.PendingTTL = time.Duration(fc.PendingTTLSeconds) * time.Second
	}
}
