package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	MailProviderSMTP  = "smtp"
	MailProviderRelay = "relay"
)

type Config struct {
	StoreDriver         string `env:"STORE_DRIVER,default=postgres"`
	DatabaseDSN         string `env:"DATABASE_DSN"`
	RedisURL            string `env:"REDIS_URL"`
	MailProvider        string `env:"MAIL_PROVIDER,default=smtp"`
	SMTPHost            string `env:"SMTP_HOST,default=smtp.gmail.com"`
	SMTPPort            int    `env:"SMTP_PORT,default=587"`
	RelayURL            string `env:"RELAY_URL"`
	SendTimeoutSeconds  int    `env:"SEND_TIMEOUT_SECONDS,default=30"`
	SenderRatePerSec    int    `env:"SENDER_RATE_LIMIT_PER_SEC,default=2"`
	ScanIntervalSeconds int    `env:"SCAN_INTERVAL_SECONDS,default=5"`
	ScanLimit           int    `env:"SCAN_LIMIT,default=100"`
	DispatchConcurrency int    `env:"DISPATCH_CONCURRENCY,default=4"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.MailProvider = strings.ToLower(strings.TrimSpace(cfg.MailProvider))

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.DatabaseDSN) == "" {
			return nil, fmt.Errorf("DATABASE_DSN is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.MailProvider {
	case MailProviderSMTP:
	case MailProviderRelay:
		if strings.TrimSpace(cfg.RelayURL) == "" {
			return nil, fmt.Errorf("RELAY_URL is required when MAIL_PROVIDER=relay")
		}
	default:
		return nil, fmt.Errorf("unsupported MAIL_PROVIDER %q", cfg.MailProvider)
	}

	return &cfg, nil
}
