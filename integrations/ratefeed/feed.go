// Package ratefeed pulls exchange rates from an HTTP endpoint on a schedule
// and installs them in the rate oracle.
package ratefeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"tappay/native/rates"
)

const maxResponseBytes = 64 << 10

// Source produces the current rate as numerator/denominator.
type Source interface {
	Fetch(ctx context.Context) (*big.Int, *big.Int, error)
}

// Setter installs a rate. *rates.Oracle satisfies it.
type Setter interface {
	SetRate(ctx context.Context, numerator, denominator *big.Int, updater string, callerIsUpdater bool) (rates.Rate, error)
}

// HTTPSource reads a decimal or fractional rate from a JSON document.
type HTTPSource struct {
	url        string
	path       string
	httpClient *http.Client
}

// NewHTTPSource constructs a source reading path (gjson syntax) from url.
func NewHTTPSource(url, path string, timeout time.Duration) (*HTTPSource, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("ratefeed: url required")
	}
	if strings.TrimSpace(path) == "" {
		path = "rate"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{url: url, path: path, httpClient: &http.Client{Timeout: timeout}}, nil
}

// Fetch retrieves and parses the rate. Values such as "1.25", 1.25 and
// "5/4" are accepted and reduced to lowest terms.
func (s *HTTPSource) Fetch(ctx context.Context) (*big.Int, *big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ratefeed: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ratefeed: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("ratefeed: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("ratefeed: read: %w", err)
	}
	result := gjson.GetBytes(body, s.path)
	if !result.Exists() {
		return nil, nil, fmt.Errorf("ratefeed: rate missing at %q", s.path)
	}
	raw := result.Raw
	if result.Type == gjson.String {
		raw = result.Str
	}
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
	if !ok {
		return nil, nil, fmt.Errorf("ratefeed: invalid rate %q", raw)
	}
	if rat.Sign() <= 0 {
		return nil, nil, fmt.Errorf("ratefeed: rate must be positive, got %s", rat.RatString())
	}
	return new(big.Int).Set(rat.Num()), new(big.Int).Set(rat.Denom()), nil
}

// Feeder polls a Source on a cron schedule.
type Feeder struct {
	source  Source
	setter  Setter
	updater string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastErr error
}

// NewFeeder constructs a feeder. The updater identity is recorded on every
// installed rate.
func NewFeeder(source Source, setter Setter, updater string, timeout time.Duration, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Feeder{
		source:  source,
		setter:  setter,
		updater: updater,
		timeout: timeout,
		logger:  logger.With("component", "ratefeed"),
	}
}

// RunOnce fetches and installs one rate.
func (f *Feeder) RunOnce(ctx context.Context) (rates.Rate, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	num, den, err := f.source.Fetch(ctx)
	if err == nil {
		var rate rates.Rate
		rate, err = f.setter.SetRate(ctx, num, den, f.updater, true)
		if err == nil {
			f.setLastErr(nil)
			f.logger.Debug("rate installed", "numerator", num.String(), "denominator", den.String(), "version", rate.Version)
			return rate, nil
		}
	}
	f.setLastErr(err)
	f.logger.Warn("rate feed update failed", "error", err)
	return rates.Rate{}, err
}

// Start schedules RunOnce with a standard cron expression or descriptor such
// as "@every 1m".
func (f *Feeder) Start(schedule string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cron != nil {
		return fmt.Errorf("ratefeed: already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { _, _ = f.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("ratefeed: schedule %q: %w", schedule, err)
	}
	c.Start()
	f.cron = c
	return nil
}

// Stop halts the schedule and waits for a running update to finish or ctx to
// expire.
func (f *Feeder) Stop(ctx context.Context) {
	f.mu.Lock()
	c := f.cron
	f.cron = nil
	f.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// LastError reports the outcome of the most recent update.
func (f *Feeder) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Feeder) setLastErr(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}
