package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "24h" in both TOML
// and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// SponsorshipPolicy is the YAML policy file operators may maintain apart from
// the main configuration. Unset fields keep the inline values.
type SponsorshipPolicy struct {
	Enabled             *bool    `yaml:"enabled"`
	MaxCostPerOperation uint64   `yaml:"max_cost_per_operation"`
	DailyCap            uint64   `yaml:"daily_cap"`
	MonthlyCap          uint64   `yaml:"monthly_cap"`
	DayLength           Duration `yaml:"day_length"`
	MonthLength         Duration `yaml:"month_length"`
}

// LoadSponsorshipPolicy reads a YAML policy file.
func LoadSponsorshipPolicy(path string) (SponsorshipPolicy, error) {
	var policy SponsorshipPolicy
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read sponsorship policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("decode sponsorship policy: %w", err)
	}
	return policy, nil
}

// ApplyTo overlays the set policy fields onto s.
func (p SponsorshipPolicy) ApplyTo(s *Sponsorship) {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.MaxCostPerOperation > 0 {
		s.MaxCostPerOperation = p.MaxCostPerOperation
	}
	if p.DailyCap > 0 {
		s.DailyCap = p.DailyCap
	}
	if p.MonthlyCap > 0 {
		s.MonthlyCap = p.MonthlyCap
	}
	if p.DayLength.Duration > 0 {
		s.DayLength = p.DayLength
	}
	if p.MonthLength.Duration > 0 {
		s.MonthLength = p.MonthLength
	}
}
