// Package webhooks pushes journaled events to an operator endpoint with
// signed, retried deliveries.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tappay/core/events"
)

const (
	EventHeader     = "X-Tappay-Event"
	DeliveryHeader  = "X-Tappay-Delivery"
	SignatureHeader = "X-Tappay-Signature"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	// defaultSendTimeout bounds each attempt when the client sets no timeout.
	defaultSendTimeout = 15 * time.Second
)

// Payload is the JSON body of a delivery.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	SentAt     time.Time         `json:"sentAt"`
}

// Source is the event feed a notifier follows.
type Source interface {
	Subscribe(ctx context.Context, cursor string) (<-chan events.FeedUpdate, func(), []events.FeedUpdate)
}

// Notifier follows a feed and delivers matching events one at a time, in feed
// order. A delivery that exhausts its attempts is logged and skipped.
type Notifier struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	types       map[string]bool
	logger      *slog.Logger
	clock       func() time.Time

	mu        sync.Mutex
	cursor    string
	delivered uint64
	failed    uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option mutates notifier configuration.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(n *Notifier) {
		if maxAttempts > 0 {
			n.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			n.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			n.maxBackoff = maxBackoff
		}
	}
}

// WithEventTypes restricts deliveries to the named event types. Without it
// every event is delivered.
func WithEventTypes(types ...string) Option {
	return func(n *Notifier) {
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				if n.types == nil {
					n.types = make(map[string]bool)
				}
				n.types[t] = true
			}
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier validates the endpoint and secret.
func NewNotifier(endpoint string, secret []byte, opts ...Option) (*Notifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	n := &Notifier{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: defaultSendTimeout},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "webhooks")
	return n, nil
}

// Start subscribes to source after cursor and begins delivering.
func (n *Notifier) Start(source Source, cursor string) error {
	if n == nil || source == nil {
		return errors.New("webhook: notifier not initialised")
	}
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return errors.New("webhook: notifier already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.cursor = cursor
	n.mu.Unlock()

	updates, unsubscribe, backlog := source.Subscribe(ctx, cursor)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer unsubscribe()
		for _, update := range backlog {
			if ctx.Err() != nil {
				return
			}
			n.handle(ctx, update)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				n.handle(ctx, update)
			}
		}
	}()
	return nil
}

// Close stops the notifier and waits for the inflight delivery to finish.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
}

// Cursor reports the feed cursor of the last processed update.
func (n *Notifier) Cursor() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursor
}

// Stats reports delivered and abandoned delivery counts.
func (n *Notifier) Stats() (delivered, failed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.failed
}

func (n *Notifier) handle(ctx context.Context, update events.FeedUpdate) {
	if update.Event == nil || (n.types != nil && !n.types[update.Event.Type]) {
		n.advance(update.Cursor, false, false)
		return
	}
	payload := Payload{
		DeliveryID: uuid.NewString(),
		Cursor:     update.Cursor,
		Type:       update.Event.Type,
		Attributes: update.Event.Attributes,
		SentAt:     n.clock().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encode webhook payload", "cursor", update.Cursor, "error", err)
		n.advance(update.Cursor, false, true)
		return
	}
	if err := n.deliver(ctx, payload, body); err != nil {
		if ctx.Err() != nil {
			return
		}
		n.logger.Warn("webhook delivery abandoned",
			"delivery", payload.DeliveryID,
			"type", payload.Type,
			"attempts", n.maxAttempts,
			"error", err)
		n.advance(update.Cursor, false, true)
		return
	}
	n.advance(update.Cursor, true, false)
}

func (n *Notifier) advance(cursor string, delivered, failed bool) {
	n.mu.Lock()
	n.cursor = cursor
	if delivered {
		n.delivered++
	}
	if failed {
		n.failed++
	}
	n.mu.Unlock()
}

func (n *Notifier) deliver(ctx context.Context, payload Payload, body []byte) error {
	backoff := n.minBackoff
	timeout := n.client.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	var err error
	for attempt := 1; ; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err = n.send(sendCtx, payload, body)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= n.maxAttempts {
			return err
		}
		n.logger.Debug("webhook delivery failed", "delivery", payload.DeliveryID, "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, n.maxBackoff)
	}
}

func (n *Notifier) send(ctx context.Context, payload Payload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, payload.Type)
	req.Header.Set(DeliveryHeader, payload.DeliveryID)
	req.Header.Set(SignatureHeader, Sign(n.secret, body))
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
