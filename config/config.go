// Package config loads the settlementd TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root settlementd configuration.
type Config struct {
	ListenAddress string      `toml:"ListenAddress"`
	Environment   string      `toml:"Environment"`
	LogLevel      string      `toml:"LogLevel"`
	LogFile       string      `toml:"LogFile,omitempty"`
	Journal       Journal     `toml:"journal"`
	Settlement    Settlement  `toml:"settlement"`
	Vendors       Vendors     `toml:"vendors"`
	Names         Names       `toml:"names"`
	Rates         Rates       `toml:"rates"`
	Sponsorship   Sponsorship `toml:"sponsorship"`
	Faucet        Faucet      `toml:"faucet"`
	Auth          Auth        `toml:"auth"`
	RateLimit     RateLimit   `toml:"rate_limit"`
	Webhook       Webhook     `toml:"webhook"`
	Telemetry     Telemetry   `toml:"telemetry"`
}

// Load reads the configuration at path, writing a default file first when
// none exists. The sponsorship policy file, when referenced, overrides the
// inline sponsorship section.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if cfg.Sponsorship.PolicyFile != "" {
		policyPath := cfg.Sponsorship.PolicyFile
		if !filepath.IsAbs(policyPath) {
			policyPath = filepath.Join(filepath.Dir(path), policyPath)
		}
		policy, err := LoadSponsorshipPolicy(policyPath)
		if err != nil {
			return nil, err
		}
		policy.ApplyTo(&cfg.Sponsorship)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a development configuration.
func Default() *Config {
	return &Config{
		ListenAddress: ":8085",
		Environment:   "dev",
		LogLevel:      "info",
		Journal: Journal{
			Backend: "leveldb",
			Path:    "./tappay-data/journal",
			Timeout: Duration{Duration: DefaultJournalTimeout},
		},
		Settlement: Settlement{
			FeeBps: 250,
		},
		Vendors: Vendors{
			MinimumScore:      150,
			ReputationTimeout: Duration{Duration: DefaultReputationTimeout},
			ScorePath:         "score",
		},
		Names: Names{Namespace: "tappay.eth"},
		Rates: Rates{
			Quote:        "USD",
			MaxAge:       Duration{Duration: DefaultRateMaxAge},
			FeedSchedule: "@every 1m",
			FeedRatePath: "rate",
			FeedTimeout:  Duration{Duration: DefaultFeedTimeout},
		},
		Sponsorship: Sponsorship{
			Enabled:             true,
			MaxCostPerOperation: 50_000,
			DailyCap:            200_000,
			MonthlyCap:          2_000_000,
			DayLength:           Duration{Duration: DefaultDayLength},
			MonthLength:         Duration{Duration: DefaultMonthLength},
		},
		Faucet: Faucet{
			Enabled:  true,
			Amount:   "1000000",
			Cooldown: Duration{Duration: DefaultFaucetCooldown},
		},
		Auth: Auth{
			SecretEnv: "TAPPAY_JWT_SECRET",
			Issuer:    "tappay",
			Audience:  "settlementd",
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Webhook: Webhook{
			SecretEnv:   "TAPPAY_WEBHOOK_SECRET",
			Events:      []string{"settlement.completed", "vendor.suspended"},
			MaxAttempts: 5,
		},
		Telemetry: Telemetry{SampleRatio: 1},
	}
}

// createDefault persists and returns a default configuration. The fee
// recipient is left for the operator to fill in, so validation is skipped.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
