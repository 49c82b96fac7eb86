package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/jobs"
	"github.com/gatehouse/gatehouse/internal/keyval"
	"github.com/gatehouse/gatehouse/internal/multipass"
	"github.com/gatehouse/gatehouse/internal/otp"
	"github.com/gatehouse/gatehouse/internal/ratelimit"
	"github.com/gatehouse/gatehouse/internal/server"
	"github.com/gatehouse/gatehouse/internal/settings"
	"github.com/gatehouse/gatehouse/internal/shopify"
	"github.com/gatehouse/gatehouse/internal/sms"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	Long: `Start the HTTP server, the SMS delivery workers, and the delivery-pump
loop. Configuration comes from gatehouse.toml and environment variables;
see the config package for the full list.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to gatehouse.toml config file")
	serveCmd.Flags().Bool("memory", false, "Use the in-memory store and log SMS provider (development)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	memoryMode, _ := cmd.Flags().GetBool("memory")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	clk := clock.System{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, redisClient, err := buildStore(ctx, cfg, memoryMode, clk)
	if err != nil {
		return err
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("key-value store unreachable: %w", err)
	}

	providers, err := buildProviders(ctx, cfg, memoryMode, logger)
	if err != nil {
		return err
	}
	smsRouter := sms.NewRouter(providers, store, clk, logger)
	logger.Info("sms providers configured", "order", smsRouter.Providers())

	var queue jobs.Queue
	if redisClient != nil {
		rq := jobs.NewRedisQueue(redisClient, clk, logger)
		if recovered, err := rq.RecoverInflight(ctx); err != nil {
			logger.Warn("recover inflight jobs", "error", err)
		} else if recovered > 0 {
			logger.Info("requeued inflight jobs from previous run", "count", recovered)
		}
		rq.StartPump(ctx, time.Second)
		queue = rq
	} else {
		queue = jobs.NewMemoryQueue(clk)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		w := jobs.NewWorker(queue, smsRouter, logger.With("worker", i))
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Run(workerCtx)
		}()
	}

	callbackURL := ""
	if cfg.SMS.CallbackBaseURL != "" {
		callbackURL = strings.TrimSuffix(cfg.SMS.CallbackBaseURL, "/") + "/api/webhooks/sms-dlr"
	}

	var google *auth.OAuthProvider
	if cfg.OAuth.GoogleClientID != "" {
		google = auth.NewGoogleProvider(cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, cfg.OAuth.GoogleRedirectURI)
	}

	settingsProvider := settings.NewProvider(store)
	service := auth.NewService(auth.Options{
		Store: store,
		OTP: otp.NewEngine(store, clk, otp.Options{
			Length:         cfg.OTP.Length,
			TTL:            cfg.OTPTTL(),
			MaxFailures:    cfg.OTP.MaxAttempts,
			BlockDuration:  cfg.OTPBlockDuration(),
			ResendCooldown: cfg.ResendCooldown(),
			MaxSends:       cfg.SMS.MaxSendAttempts,
		}),
		Queue:           queue,
		Minter:          multipass.NewMinter(cfg.Shopify.ShopDomain, cfg.Shopify.MultipassSecret, clk),
		Directory:       shopify.NewCustomers(cfg.Shopify.ShopDomain, cfg.Shopify.AccessToken),
		Settings:        settingsProvider,
		Clock:           clk,
		Logger:          logger,
		DLRCallbackURL:  callbackURL,
		CooldownSeconds: cfg.SMS.ResendCooldownSeconds,
		Google:          google,
		OrderOTP:        otp.NewOrderConfirmation(store),
	})

	srv := server.New(server.Options{
		Auth:          service,
		Settings:      settingsProvider,
		SMSRouter:     smsRouter,
		Receipts:      providers,
		Store:         store,
		Limiter:       ratelimit.NewLimiter(store, cfg.RateLimitWindow(), cfg.RateLimit.MaxRequests, logger),
		Logger:        logger,
		APIKey:        cfg.Shopify.APIKey,
		APISecret:     cfg.Shopify.APISecret,
		WebhookSecret: cfg.Shopify.APISecret,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		serverErr <- srv.Start(addr)
	}()

	select {
	case err := <-serverErr:
		stopWorkers()
		workers.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// Workers first so in-flight SMS jobs settle, then the HTTP server.
	stopWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildStore selects the Redis store when a URL is configured and --memory is
// off; otherwise the in-memory store with a background janitor. The second
// return is non-nil only for Redis and feeds the job queue.
func buildStore(ctx context.Context, cfg config.Config, memoryMode bool, clk clock.Clock) (keyval.Store, *redis.Client, error) {
	if memoryMode || cfg.Store.RedisURL == "" {
		mem := keyval.NewMemory(clk)
		mem.StartJanitor(ctx, time.Minute)
		return mem, nil, nil
	}

	rs, err := keyval.NewRedis(keyval.RedisOptions{
		URL:                cfg.Store.RedisURL,
		TLS:                cfg.Store.TLS,
		InsecureSkipVerify: !cfg.Store.TLSRejectUnauthorized,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rs, rs.Client(), nil
}

// buildProviders assembles the SMS provider chain in priority order. With no
// vendor configured (or in --memory mode) messages go to the log.
func buildProviders(ctx context.Context, cfg config.Config, memoryMode bool, logger *slog.Logger) ([]sms.Provider, error) {
	if memoryMode {
		return []sms.Provider{sms.NewLog(logger, 1)}, nil
	}

	var providers []sms.Provider
	if cfg.SMS.SMSToAPIKey != "" {
		providers = append(providers, sms.NewSMSTo(cfg.SMS.SMSToAPIKey, cfg.SMS.SMSToSenderID, 1))
	}
	if cfg.SMS.TwilioAccountSID != "" && cfg.SMS.TwilioAuthToken != "" {
		providers = append(providers, sms.NewTwilio(cfg.SMS.TwilioAccountSID, cfg.SMS.TwilioAuthToken, cfg.SMS.TwilioFromNumber, 2))
	}
	if cfg.SMS.AWSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SMS.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		providers = append(providers, sms.NewSNS(sns.NewFromConfig(awsCfg), 3))
	}

	if len(providers) == 0 {
		logger.Warn("no sms vendor configured, codes go to the log")
		providers = append(providers, sms.NewLog(logger, 1))
	}
	return providers, nil
}
