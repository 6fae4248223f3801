// Package settlementd serves the tap-to-pay settlement core over HTTP.
package settlementd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tappay/config"
	"tappay/integrations/ratefeed"
	"tappay/integrations/reputation"
	"tappay/integrations/webhooks"
	"tappay/journal"
	"tappay/observability/logging"
	telemetry "tappay/observability/otel"
)

const janitorSchedule = "@every 10m"

// Main initialises and runs the settlement daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "settlementd.toml", "path to settlementd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}

	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("TAPPAY_ENV")); override != "" {
		env = override
	}
	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.LogLevel))}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile, 100, 10, 30))
	}
	logger := logging.Setup("settlementd", env, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "settlementd",
		Environment: env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	store, err := journal.Open(cfg.Journal.Backend, cfg.Journal.Path, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	var coreOpts []CoreOption
	if cfg.Vendors.ReputationURL != "" {
		client, err := reputation.NewClient(reputation.Config{
			BaseURL:   cfg.Vendors.ReputationURL,
			APIKey:    os.Getenv("TAPPAY_REPUTATION_API_KEY"),
			ScorePath: cfg.Vendors.ScorePath,
			Timeout:   cfg.Vendors.ReputationTimeout.Duration,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		coreOpts = append(coreOpts, WithScoreSource(client))
	}
	core, err := NewCore(cfg, store, logger, coreOpts...)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init core: %w", err)
	}
	defer func() { _ = core.Close() }()

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 5*time.Minute)
	applied, err := core.Recover(recoverCtx)
	cancelRecover()
	if err != nil {
		return fmt.Errorf("recover journal: %w", err)
	}
	logger.Info("journal recovered", "entries", applied, "backend", cfg.Journal.Backend)

	var feeder *ratefeed.Feeder
	if cfg.Rates.FeedURL != "" {
		source, err := ratefeed.NewHTTPSource(cfg.Rates.FeedURL, cfg.Rates.FeedRatePath, cfg.Rates.FeedTimeout.Duration)
		if err != nil {
			return err
		}
		feeder = ratefeed.NewFeeder(source, core.Rates, "ratefeed", cfg.Rates.FeedTimeout.Duration, logger)
		if _, err := feeder.RunOnce(context.Background()); err != nil {
			logger.Warn("initial rate fetch failed", "error", err)
		}
		if err := feeder.Start(cfg.Rates.FeedSchedule); err != nil {
			return err
		}
	}

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		hookSecret := strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
		notifier, err := webhooks.NewNotifier(url, []byte(hookSecret),
			webhooks.WithEventTypes(cfg.Webhook.Events...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := notifier.Start(core.Feed, ""); err != nil {
			return err
		}
		defer notifier.Close()
	}

	secret, err := cfg.Auth.ResolveSecret()
	if err != nil {
		return err
	}
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: secret, Issuer: cfg.Auth.Issuer, Audience: cfg.Auth.Audience}, logger)
	if err != nil {
		return err
	}
	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	janitor := cron.New()
	if _, err := janitor.AddFunc(janitorSchedule, func() {
		windows := core.Sponsorship.Prune(time.Now())
		visitors := limiter.Prune()
		logger.Debug("janitor pass", "windows", windows, "visitors", visitors)
	}); err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	server := NewServer(core, auth, limiter, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("settlementd listening", slog.String("address", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if feeder != nil {
			feeder.Stop(shutdownCtx)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
