package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testRecipient = "0x0000000000000000000000000000000000fee000"

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settlementd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8085", cfg.ListenAddress)
	require.Equal(t, uint32(250), cfg.Settlement.FeeBps)
	require.FileExists(t, path)

	// The default leaves FeeRecipient empty, so reloading must fail until the
	// operator sets it.
	_, err = Load(path)
	require.ErrorContains(t, err, "FeeRecipient")
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settlementd.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
Environment = "staging"
LogLevel = "debug"

[journal]
Backend = "sqlite"
Path = "journal.db"
Timeout = "750ms"

[settlement]
FeeBps = 125
FeeRecipient = "` + testRecipient + `"

[vendors]
MinimumScore = 300
ReputationURL = "http://reputation.local/score"
ReputationTimeout = "2s"
ScorePath = "data.score"

[names]
Namespace = "pay.example"

[rates]
Quote = "eur"
MaxAge = "5m"
FeedSchedule = "@every 30s"
FeedRatePath = "quotes.EUR"
FeedTimeout = "1s"

[sponsorship]
Enabled = true
MaxCostPerOperation = 10
DailyCap = 100
MonthlyCap = 1000
DayLength = "24h"
MonthLength = "720h"

[faucet]
Enabled = true
Amount = "42"
Cooldown = "1h"

[rate_limit]
RequestsPerSecond = 5.5
Burst = 11
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "sqlite", cfg.Journal.Backend)
	require.Equal(t, 750*time.Millisecond, cfg.Journal.Timeout.Duration)
	require.Equal(t, uint32(125), cfg.Settlement.FeeBps)
	require.Equal(t, uint64(300), cfg.Vendors.MinimumScore)
	require.Equal(t, "data.score", cfg.Vendors.ScorePath)
	require.Equal(t, "pay.example", cfg.Names.Namespace)
	require.Equal(t, 5*time.Minute, cfg.Rates.MaxAge.Duration)
	require.Equal(t, 720*time.Hour, cfg.Sponsorship.MonthLength.Duration)
	require.Equal(t, 5.5, cfg.RateLimit.RequestsPerSecond)

	amount, err := cfg.Faucet.AmountValue()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), amount)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlementd.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "Bogus")
}

func TestSponsorshipPolicyFileOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sponsorship.yaml"), []byte(`enabled: false
daily_cap: 500
day_length: 12h
`), 0o600))
	path := filepath.Join(dir, "settlementd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[settlement]
FeeRecipient = "`+testRecipient+`"

[sponsorship]
PolicyFile = "sponsorship.yaml"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Sponsorship.Enabled)
	require.Equal(t, uint64(500), cfg.Sponsorship.DailyCap)
	require.Equal(t, 12*time.Hour, cfg.Sponsorship.DayLength.Duration)
	require.Equal(t, uint64(2_000_000), cfg.Sponsorship.MonthlyCap)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Settlement.FeeRecipient = testRecipient
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"fee bps":         func(c *Config) { c.Settlement.FeeBps = 10_000 },
		"recipient":       func(c *Config) { c.Settlement.FeeRecipient = "" },
		"bad recipient":   func(c *Config) { c.Settlement.FeeRecipient = "not-an-address" },
		"backend":         func(c *Config) { c.Journal.Backend = "redis" },
		"postgres dsn":    func(c *Config) { c.Journal.Backend = "postgres" },
		"namespace":       func(c *Config) { c.Names.Namespace = " " },
		"window":          func(c *Config) { c.Sponsorship.DayLength = Duration{} },
		"month window":    func(c *Config) { c.Sponsorship.MonthLength = Duration{Duration: time.Hour} },
		"cap order":       func(c *Config) { c.Sponsorship.DailyCap = c.Sponsorship.MonthlyCap + 1 },
		"per-op cap":      func(c *Config) { c.Sponsorship.MaxCostPerOperation = c.Sponsorship.DailyCap + 1 },
		"faucet amount":   func(c *Config) { c.Faucet.Amount = "-5" },
		"faucet cooldown": func(c *Config) { c.Faucet.Cooldown = Duration{} },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"webhook scheme":  func(c *Config) { c.Webhook.URL = "ftp://hooks.example" },
		"webhook retries": func(c *Config) { c.Webhook.URL = "https://hooks.example"; c.Webhook.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	free := valid()
	free.Settlement.FeeBps = 0
	free.Settlement.FeeRecipient = ""
	require.NoError(t, free.Validate())
}

func TestAuthResolveSecret(t *testing.T) {
	t.Setenv("TAPPAY_TEST_SECRET", "from-env")
	secret, err := Auth{SecretEnv: "TAPPAY_TEST_SECRET"}.ResolveSecret()
	require.NoError(t, err)
	require.Equal(t, "from-env", secret)

	secret, err = Auth{Secret: "inline", SecretEnv: "TAPPAY_TEST_SECRET"}.ResolveSecret()
	require.NoError(t, err)
	require.Equal(t, "inline", secret)

	_, err = Auth{}.ResolveSecret()
	require.Error(t, err)
}
