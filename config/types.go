package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"
)

const (
	DefaultJournalTimeout    = 2 * time.Second
	DefaultReputationTimeout = 3 * time.Second
	DefaultRateMaxAge        = 10 * time.Minute
	DefaultFeedTimeout       = 5 * time.Second
	DefaultDayLength         = 24 * time.Hour
	DefaultMonthLength       = 30 * 24 * time.Hour
	DefaultFaucetCooldown    = 24 * time.Hour
)

// Journal selects the durable event log backend.
type Journal struct {
	// Backend is one of memory, leveldb, sqlite or postgres.
	Backend string   `toml:"Backend"`
	Path    string   `toml:"Path,omitempty"`
	DSN     string   `toml:"DSN,omitempty"`
	Timeout Duration `toml:"Timeout"`
}

// Settlement configures the platform fee.
type Settlement struct {
	FeeBps       uint32 `toml:"FeeBps"`
	FeeRecipient string `toml:"FeeRecipient"`
}

// Vendors configures activation and the reputation integration.
type Vendors struct {
	MinimumScore      uint64   `toml:"MinimumScore"`
	ReputationURL     string   `toml:"ReputationURL,omitempty"`
	ReputationTimeout Duration `toml:"ReputationTimeout"`
	// ScorePath is the gjson path of the score in the reputation response.
	ScorePath string `toml:"ScorePath"`
}

// Names configures the handle namespace.
type Names struct {
	Namespace string `toml:"Namespace"`
}

// Rates configures the oracle and the optional scheduled feed.
type Rates struct {
	Quote        string   `toml:"Quote"`
	MaxAge       Duration `toml:"MaxAge"`
	FeedURL      string   `toml:"FeedURL,omitempty"`
	FeedSchedule string   `toml:"FeedSchedule"`
	FeedRatePath string   `toml:"FeedRatePath"`
	FeedTimeout  Duration `toml:"FeedTimeout"`
}

// Sponsorship configures the sponsorship guard.
type Sponsorship struct {
	Enabled             bool     `toml:"Enabled"`
	MaxCostPerOperation uint64   `toml:"MaxCostPerOperation"`
	DailyCap            uint64   `toml:"DailyCap"`
	MonthlyCap          uint64   `toml:"MonthlyCap"`
	DayLength           Duration `toml:"DayLength"`
	MonthLength         Duration `toml:"MonthLength"`
	InitialPool         uint64   `toml:"InitialPool"`
	PolicyFile          string   `toml:"PolicyFile,omitempty"`
}

// Faucet configures test balance issuance.
type Faucet struct {
	Enabled  bool     `toml:"Enabled"`
	Amount   string   `toml:"Amount"`
	Cooldown Duration `toml:"Cooldown"`
}

// AmountValue parses the configured grant.
func (f Faucet) AmountValue() (*big.Int, error) {
	amount, err := parseUintAmount(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid faucet.Amount: %w", err)
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("invalid faucet.Amount: must be positive")
	}
	return amount, nil
}

// Auth configures bearer token verification.
type Auth struct {
	Secret    string `toml:"Secret,omitempty"`
	SecretEnv string `toml:"SecretEnv,omitempty"`
	Issuer    string `toml:"Issuer"`
	Audience  string `toml:"Audience"`
}

// ResolveSecret returns the inline secret or the one named by SecretEnv.
func (a Auth) ResolveSecret() (string, error) {
	if secret := strings.TrimSpace(a.Secret); secret != "" {
		return secret, nil
	}
	if a.SecretEnv != "" {
		if secret := strings.TrimSpace(os.Getenv(a.SecretEnv)); secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("auth: environment variable %s is empty", a.SecretEnv)
	}
	return "", fmt.Errorf("auth: no secret configured")
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Webhook configures outbound event notifications. An empty URL disables
// them.
type Webhook struct {
	URL         string   `toml:"URL,omitempty"`
	SecretEnv   string   `toml:"SecretEnv,omitempty"`
	Events      []string `toml:"Events"`
	MaxAttempts int      `toml:"MaxAttempts"`
}

// Telemetry configures OTLP export and the metrics listener.
type Telemetry struct {
	OTLPEndpoint   string  `toml:"OTLPEndpoint,omitempty"`
	Insecure       bool    `toml:"Insecure"`
	Traces         bool    `toml:"Traces"`
	Metrics        bool    `toml:"Metrics"`
	SampleRatio    float64 `toml:"SampleRatio"`
	MetricsAddress string  `toml:"MetricsAddress,omitempty"`
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
