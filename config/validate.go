package config

import (
	"fmt"
	"strings"

	"tappay/crypto"
)

// MaxFeeBps is the exclusive upper bound on the platform fee.
const MaxFeeBps = 10_000

var journalBackends = map[string]bool{"memory": true, "leveldb": true, "sqlite": true, "postgres": true}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Settlement.FeeBps >= MaxFeeBps {
		return fmt.Errorf("settlement: FeeBps must be below %d", MaxFeeBps)
	}
	if c.Settlement.FeeBps > 0 {
		if strings.TrimSpace(c.Settlement.FeeRecipient) == "" {
			return fmt.Errorf("settlement: FeeRecipient required when FeeBps > 0")
		}
		if _, err := crypto.ParseAddress(c.Settlement.FeeRecipient); err != nil {
			return fmt.Errorf("settlement: FeeRecipient: %w", err)
		}
	}
	if !journalBackends[c.Journal.Backend] {
		return fmt.Errorf("journal: unsupported backend %q", c.Journal.Backend)
	}
	if c.Journal.Backend == "postgres" && c.Journal.DSN == "" {
		return fmt.Errorf("journal: DSN required for postgres")
	}
	if (c.Journal.Backend == "leveldb" || c.Journal.Backend == "sqlite") && c.Journal.Path == "" && c.Journal.DSN == "" {
		return fmt.Errorf("journal: Path required for %s", c.Journal.Backend)
	}
	if c.Journal.Timeout.Duration <= 0 {
		return fmt.Errorf("journal: Timeout must be positive")
	}
	if strings.TrimSpace(c.Names.Namespace) == "" {
		return fmt.Errorf("names: Namespace required")
	}
	if strings.TrimSpace(c.Rates.Quote) == "" {
		return fmt.Errorf("rates: Quote required")
	}
	if c.Rates.MaxAge.Duration < 0 {
		return fmt.Errorf("rates: MaxAge must not be negative")
	}
	if err := c.Sponsorship.validate(); err != nil {
		return err
	}
	if c.Faucet.Enabled {
		if _, err := c.Faucet.AmountValue(); err != nil {
			return err
		}
		if c.Faucet.Cooldown.Duration <= 0 {
			return fmt.Errorf("faucet: Cooldown must be positive")
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if url := strings.TrimSpace(c.Webhook.URL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("webhook: URL must be http or https")
		}
		if c.Webhook.SecretEnv == "" {
			return fmt.Errorf("webhook: SecretEnv required")
		}
		if c.Webhook.MaxAttempts <= 0 {
			return fmt.Errorf("webhook: MaxAttempts must be positive")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}

func (s Sponsorship) validate() error {
	if s.DayLength.Duration <= 0 || s.MonthLength.Duration <= 0 {
		return fmt.Errorf("sponsorship: window lengths must be positive")
	}
	if s.MonthLength.Duration < s.DayLength.Duration {
		return fmt.Errorf("sponsorship: MonthLength shorter than DayLength")
	}
	if s.MaxCostPerOperation == 0 || s.DailyCap == 0 || s.MonthlyCap == 0 {
		return fmt.Errorf("sponsorship: caps must be positive")
	}
	if s.MaxCostPerOperation > s.DailyCap || s.DailyCap > s.MonthlyCap {
		return fmt.Errorf("sponsorship: caps must satisfy MaxCostPerOperation <= DailyCap <= MonthlyCap")
	}
	return nil
}
