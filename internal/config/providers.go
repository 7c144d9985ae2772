package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const defaultProviderTimeout = 10 * time.Second

// ProviderConfig is one payment rail's credentials and endpoint
type ProviderConfig struct {
	Key           string        `yaml:"key"`
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`

	// bank_transfer only: the collection account top-ups are credited to
	CreditorName string `yaml:"creditor_name"`
	CreditorBIC  string `yaml:"creditor_bic"`
	DebtorBIC    string `yaml:"debtor_bic"`

	// qr_voucher only
	VoucherTTL time.Duration `yaml:"voucher_ttl"`
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviders reads the provider file. ${VAR} references are expanded from
// the environment before parsing so secrets stay out of the file.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

func ParseProviders(data []byte) ([]ProviderConfig, error) {
	var file providersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range file.Providers {
		p := &file.Providers[i]
		if p.Key == "" {
			return nil, fmt.Errorf("provider %d has no key", i)
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("provider %s configured twice", p.Key)
		}
		seen[p.Key] = true
		if p.Timeout <= 0 {
			p.Timeout = defaultProviderTimeout
		}
	}
	return file.Providers, nil
}
