package cli

import (
	"context"
	"testing"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

func TestBuildProvidersMemoryMode(t *testing.T) {
	providers, err := buildProviders(context.Background(), config.Default(), true, testutil.DiscardLogger())
	testutil.NoError(t, err)
	testutil.SliceLen(t, providers, 1)
	testutil.Equal(t, "log", providers[0].Name())
}

func TestBuildProvidersPriorityOrder(t *testing.T) {
	cfg := config.Default()
	cfg.SMS.SMSToAPIKey = "key"
	cfg.SMS.TwilioAccountSID = "AC123"
	cfg.SMS.TwilioAuthToken = "token"
	cfg.SMS.TwilioFromNumber = "+15550001111"

	providers, err := buildProviders(context.Background(), cfg, false, testutil.DiscardLogger())
	testutil.NoError(t, err)
	testutil.SliceLen(t, providers, 2)
	testutil.Equal(t, "smsto", providers[0].Name())
	testutil.Equal(t, "twilio", providers[1].Name())
	testutil.True(t, providers[0].Priority() < providers[1].Priority())
}

func TestBuildProvidersFallsBackToLog(t *testing.T) {
	providers, err := buildProviders(context.Background(), config.Default(), false, testutil.DiscardLogger())
	testutil.NoError(t, err)
	testutil.SliceLen(t, providers, 1)
	testutil.Equal(t, "log", providers[0].Name())
}

func TestBuildStoreMemoryMode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, client, err := buildStore(ctx, config.Default(), true, clock.System{})
	testutil.NoError(t, err)
	defer store.Close()

	testutil.True(t, client == nil, "memory mode must not open a redis client")
	testutil.NoError(t, store.Ping(ctx))
}

func TestBuildStoreBadRedisURL(t *testing.T) {
	cfg := config.Default()
	cfg.Store.RedisURL = "http://not-redis"

	_, _, err := buildStore(context.Background(), cfg, false, clock.System{})
	testutil.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		logger := newLogger(config.Logging{Level: level, Format: "json"})
		testutil.True(t, logger != nil, "level %q", level)
	}
	logger := newLogger(config.Logging{Level: "info", Format: "text"})
	testutil.True(t, logger != nil)
}
