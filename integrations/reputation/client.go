// Package reputation queries the external vendor reputation service.
package reputation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 64 << 10

// Config defines the HTTP client settings for the reputation service.
type Config struct {
	BaseURL string
	APIKey  string
	// ScorePath is the gjson path of the score in the response body.
	ScorePath string
	Timeout   time.Duration
}

// Client fetches reputation scores. It satisfies vendor.ScoreSource.
type Client struct {
	baseURL    string
	apiKey     string
	scorePath  string
	httpClient *http.Client
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("reputation: base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("reputation: base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	path := strings.TrimSpace(cfg.ScorePath)
	if path == "" {
		path = "score"
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		scorePath:  path,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Score returns the account's reputation score.
func (c *Client) Score(ctx context.Context, account common.Address) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, account.Hex()), nil)
	if err != nil {
		return 0, fmt.Errorf("reputation: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reputation: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reputation: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("reputation: read: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("reputation: invalid json")
	}
	result := gjson.GetBytes(body, c.scorePath)
	if !result.Exists() || result.Type != gjson.Number {
		return 0, fmt.Errorf("reputation: score missing at %q", c.scorePath)
	}
	if result.Num < 0 {
		return 0, fmt.Errorf("reputation: negative score %s", result.Raw)
	}
	return result.Uint(), nil
}
