package sponsorship

import (
	"fmt"
	"time"
)

const (
	// DefaultDayLength is the daily window length.
	DefaultDayLength = 24 * time.Hour
	// DefaultMonthLength is the monthly window length. Months are a fixed
	// thirty days rather than calendar months.
	DefaultMonthLength = 30 * 24 * time.Hour
)

// Policy bounds how much execution cost the pool sponsors per account.
type Policy struct {
	Enabled             bool
	MaxCostPerOperation uint64
	DailyCap            uint64
	MonthlyCap          uint64
	DayLength           time.Duration
	MonthLength         time.Duration
}

// DefaultPolicy returns a conservative enabled policy.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		MaxCostPerOperation: 50_000,
		DailyCap:            200_000,
		MonthlyCap:          2_000_000,
		DayLength:           DefaultDayLength,
		MonthLength:         DefaultMonthLength,
	}
}

// Normalize fills unset window lengths with the defaults.
func (p Policy) Normalize() Policy {
	if p.DayLength <= 0 {
		p.DayLength = DefaultDayLength
	}
	if p.MonthLength <= 0 {
		p.MonthLength = DefaultMonthLength
	}
	return p
}

// Validate checks caps are positive and ordered per-operation <= daily <=
// monthly, and that the month window is no shorter than the day window.
func (p Policy) Validate() error {
	if p.MaxCostPerOperation == 0 || p.DailyCap == 0 || p.MonthlyCap == 0 {
		return fmt.Errorf("sponsorship: caps must be positive")
	}
	if p.MaxCostPerOperation > p.DailyCap {
		return fmt.Errorf("sponsorship: per-operation cap %d exceeds daily cap %d", p.MaxCostPerOperation, p.DailyCap)
	}
	if p.DailyCap > p.MonthlyCap {
		return fmt.Errorf("sponsorship: daily cap %d exceeds monthly cap %d", p.DailyCap, p.MonthlyCap)
	}
	if p.DayLength <= 0 || p.MonthLength < p.DayLength {
		return fmt.Errorf("sponsorship: invalid window lengths day=%s month=%s", p.DayLength, p.MonthLength)
	}
	return nil
}
