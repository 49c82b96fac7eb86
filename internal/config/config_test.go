package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/internal/testutil"
)

// validEnv sets the minimum environment for Load to succeed.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SHOPIFY_SHOP_DOMAIN", "example.myshopify.com")
	t.Setenv("SHOPIFY_MULTIPASS_SECRET", "mp-secret")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	testutil.ErrorContains(t, err, "read config")
	_ = cfg

	// An absent implicit file is fine; run from a directory without one.
	wd, err := os.Getwd()
	testutil.NoError(t, err)
	defer os.Chdir(wd)
	testutil.NoError(t, os.Chdir(t.TempDir()))

	cfg, err = Load("")
	testutil.NoError(t, err)
	testutil.Equal(t, 8080, cfg.Server.Port)
	testutil.Equal(t, 6, cfg.OTP.Length)
	testutil.Equal(t, 300, cfg.OTP.TTLSeconds)
	testutil.Equal(t, 5, cfg.OTP.MaxAttempts)
	testutil.Equal(t, 900, cfg.OTP.BlockDurationSeconds)
	testutil.Equal(t, 30, cfg.SMS.ResendCooldownSeconds)
	testutil.Equal(t, 3, cfg.SMS.MaxSendAttempts)
	testutil.Equal(t, 60000, cfg.RateLimit.WindowMS)
	testutil.Equal(t, 10, cfg.RateLimit.MaxRequests)
	testutil.Equal(t, 5*time.Minute, cfg.OTPTTL())
	testutil.Equal(t, 30*time.Second, cfg.ResendCooldown())
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	validEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.toml")
	content := `
[server]
port = 9000

[otp]
length = 8
`
	testutil.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("OTP_LENGTH", "4")

	cfg, err := Load(path)
	testutil.NoError(t, err)
	testutil.Equal(t, 9000, cfg.Server.Port)
	testutil.Equal(t, 4, cfg.OTP.Length)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	validEnv(t)

	path := filepath.Join(t.TempDir(), "bad.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o644))

	_, err := Load(path)
	testutil.ErrorContains(t, err, "parse")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"missing shop domain", func(c *Config) { c.Shopify.ShopDomain = "" }, "shop domain"},
		{"missing multipass secret", func(c *Config) { c.Shopify.MultipassSecret = "" }, "multipass secret"},
		{"otp length too short", func(c *Config) { c.OTP.Length = 3 }, "otp length"},
		{"otp ttl zero", func(c *Config) { c.OTP.TTLSeconds = 0 }, "otp ttl"},
		{"zero rate limit window", func(c *Config) { c.RateLimit.WindowMS = 0 }, "rate limit window"},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }, "worker count"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Shopify.ShopDomain = "example.myshopify.com"
			cfg.Shopify.MultipassSecret = "mp-secret"
			tc.mutate(&cfg)
			err := cfg.Validate()
			testutil.ErrorContains(t, err, tc.message)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("SMS_TO_API_KEY", "key123")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "25")

	wd, err := os.Getwd()
	testutil.NoError(t, err)
	defer os.Chdir(wd)
	testutil.NoError(t, os.Chdir(t.TempDir()))

	cfg, err := Load("")
	testutil.NoError(t, err)
	testutil.Equal(t, 3000, cfg.Server.Port)
	testutil.Equal(t, "redis://localhost:6379/2", cfg.Store.RedisURL)
	testutil.True(t, cfg.Store.TLS)
	testutil.Equal(t, "key123", cfg.SMS.SMSToAPIKey)
	testutil.Equal(t, 25, cfg.RateLimit.MaxRequests)
}
