package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// WalletConfig is the risk policy and component wiring for the wallet core
type WalletConfig struct {
	Currency                 string
	SingleTransactionCeiling int64
	VelocityMax              int
	VelocityWindow           time.Duration
	DayBoundary              *time.Location
	OfflineCountsTowardDaily bool
	OfflineLimitMode         string

	LedgerBackend   string // postgres or memory
	QueueBackend    string // redis or memory
	VelocityBackend string // redis or memory

	ReconcileSchedule string
	ReconcileWorkers  int

	SignerMasterKey string
	SignerSalt      string
	SignerKeyID     string

	ProvidersFile string
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

func setWalletDefaults() {
	viper.SetDefault("wallet.currency", "USD")
	viper.SetDefault("wallet.single_transaction_ceiling", 50000)
	viper.SetDefault("wallet.velocity_max", 10)
	viper.SetDefault("wallet.velocity_window", time.Minute)
	viper.SetDefault("wallet.day_boundary_tz", "UTC")
	viper.SetDefault("wallet.offline_counts_toward_daily", true)
	viper.SetDefault("wallet.offline_limit_mode", "per_transaction")
	viper.SetDefault("wallet.ledger_backend", "postgres")
	viper.SetDefault("wallet.queue_backend", "redis")
	viper.SetDefault("wallet.velocity_backend", "redis")
	viper.SetDefault("reconcile.schedule", "@every 1m")
	viper.SetDefault("reconcile.workers", 8)
	viper.SetDefault("signer.key_id", "k1")
	viper.SetDefault("signer.salt", "tourwallet-signer")
	viper.SetDefault("providers.file", "providers.yaml")
	viper.SetDefault("events.exchange", "wallet.events")
}

// LoadWalletConfig reads the wallet settings from viper
func LoadWalletConfig() (*WalletConfig, error) {
	setWalletDefaults()

	tz := viper.GetString("wallet.day_boundary_tz")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("wallet.day_boundary_tz %q: %w", tz, err)
	}

	cfg := &WalletConfig{
		Currency:                 viper.GetString("wallet.currency"),
		SingleTransactionCeiling: viper.GetInt64("wallet.single_transaction_ceiling"),
		VelocityMax:              viper.GetInt("wallet.velocity_max"),
		VelocityWindow:           viper.GetDuration("wallet.velocity_window"),
		DayBoundary:              loc,
		OfflineCountsTowardDaily: viper.GetBool("wallet.offline_counts_toward_daily"),
		OfflineLimitMode:         viper.GetString("wallet.offline_limit_mode"),
		LedgerBackend:            viper.GetString("wallet.ledger_backend"),
		QueueBackend:             viper.GetString("wallet.queue_backend"),
		VelocityBackend:          viper.GetString("wallet.velocity_backend"),
		ReconcileSchedule:        viper.GetString("reconcile.schedule"),
		ReconcileWorkers:         viper.GetInt("reconcile.workers"),
		SignerMasterKey:          viper.GetString("signer.master_key"),
		SignerSalt:               viper.GetString("signer.salt"),
		SignerKeyID:              viper.GetString("signer.key_id"),
		ProvidersFile:            viper.GetString("providers.file"),
	}

	if cfg.SignerMasterKey == "" {
		return nil, fmt.Errorf("signer.master_key is required")
	}
	if cfg.VelocityWindow <= 0 {
		return nil, fmt.Errorf("wallet.velocity_window must be positive")
	}
	if cfg.ReconcileWorkers <= 0 {
		cfg.ReconcileWorkers = 1
	}
	return cfg, nil
}

func LoadEventsConfig() *EventsConfig {
	setWalletDefaults()
	return &EventsConfig{
		AMQPURL:  viper.GetString("events.amqp_url"),
		Exchange: viper.GetString("events.exchange"),
	}
}
