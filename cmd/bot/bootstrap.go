package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"vwap-band-bot/internal/bars"
	"vwap-band-bot/internal/broker/brokerobs"
	"vwap-band-bot/internal/broker/firstrade"
	"vwap-band-bot/internal/broker/kite"
	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/metrics"
	"vwap-band-bot/internal/store"
	"vwap-band-bot/internal/tradelog"
	"vwap-band-bot/internal/types"

	"github.com/joho/godotenv"
)

// initializeSystem loads the environment and brings up logging. Tracing
// waits for the config, which carries its toggle.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("BOT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializeBroker builds the configured broker adapter, wrapped with
// observability. Simulated mode needs no broker and returns nil.
func initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	if cfg.Mode != "REAL" {
		logger.Info(ctx, "Simulated mode - fills applied locally, no brokerage session")
		return nil, nil
	}

	switch cfg.Broker {
	case "FIRSTRADE":
		brk, err := loginFirstrade(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return brokerobs.Wrap(brk), nil
	case "KITE":
		apiKey := os.Getenv(envName(cfg.Kite.APIKeyEnv, "KITE_API_KEY"))
		accessToken := os.Getenv(envName(cfg.Kite.AccessTokenEnv, "KITE_ACCESS_TOKEN"))
		if apiKey == "" || accessToken == "" {
			return nil, fmt.Errorf("%w: KITE_API_KEY / KITE_ACCESS_TOKEN not set", types.ErrAuth)
		}
		return brokerobs.Wrap(kite.NewClient(apiKey, accessToken, cfg.Kite.Exchange)), nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}

// loginFirstrade runs the credential-file login, prompting on stdin when the
// brokerage issues a one-time PIN.
func loginFirstrade(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	creds, err := firstrade.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	sess, err := firstrade.NewSession(creds)
	if err != nil {
		return nil, err
	}

	err = sess.Login(ctx)
	if errors.Is(err, firstrade.ErrNeedTwoFactor) {
		fmt.Print("Enter PIN: ")
		reader := bufio.NewReader(os.Stdin)
		code, readErr := reader.ReadString('\n')
		if readErr != nil {
			return nil, fmt.Errorf("reading PIN: %w", readErr)
		}
		err = sess.LoginTwoFA(ctx, strings.TrimSpace(code))
	}
	if err != nil {
		return nil, err
	}
	return firstrade.NewClient(sess), nil
}

// initializeFeed builds the bar feed for the configured data source. STATIC
// and YAHOO sessions are replayed with pacing; KITE streams live.
func initializeFeed(ctx context.Context, cfg *store.Config) (interfaces.BarFeed, error) {
	delay := time.Duration(cfg.ReplayDelayMs) * time.Millisecond

	switch cfg.DataSource {
	case "STATIC":
		logger.Info(ctx, "Using synthetic session data")
		return bars.NewReplayFeed(bars.NewStaticSource(0), delay, "", ""), nil
	case "YAHOO":
		logger.Info(ctx, "Replaying the last trading day from Yahoo Finance", "symbol", cfg.Symbol)
		return bars.NewReplayFeed(bars.NewYahooSource(), delay, "5d", "1m"), nil
	case "KITE":
		logger.Info(ctx, "Streaming live minute bars", "symbol", cfg.Symbol)
		apiKey := os.Getenv(envName(cfg.Kite.APIKeyEnv, "KITE_API_KEY"))
		accessToken := os.Getenv(envName(cfg.Kite.AccessTokenEnv, "KITE_ACCESS_TOKEN"))
		if apiKey == "" || accessToken == "" {
			return nil, fmt.Errorf("%w: KITE_API_KEY / KITE_ACCESS_TOKEN not set", types.ErrAuth)
		}
		return bars.NewKiteFeed(apiKey, accessToken, cfg.Kite.Exchange), nil
	}
	return nil, fmt.Errorf("unknown data source %q", cfg.DataSource)
}

func startMetrics(ctx context.Context, cfg *store.Config) {
	if cfg.MetricsAddr == "" {
		return
	}
	metrics.Serve(cfg.MetricsAddr)
	logger.Info(ctx, "Metrics endpoint up", "addr", cfg.MetricsAddr)
}

func envName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
