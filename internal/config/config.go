// Package config loads service configuration from defaults, an optional TOML
// file, and environment variables, in that order of precedence (environment
// wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Logging   Logging   `toml:"logging"`
	Store     Store     `toml:"store"`
	Shopify   Shopify   `toml:"shopify"`
	SMS       SMS       `toml:"sms"`
	OAuth     OAuth     `toml:"oauth"`
	OTP       OTP       `toml:"otp"`
	RateLimit RateLimit `toml:"rate_limit"`
	Worker    Worker    `toml:"worker"`
}

type Server struct {
	Port int `toml:"port"`
}

type Logging struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level"`
	// Format is json or text.
	Format string `toml:"format"`
}

type Store struct {
	// RedisURL is a redis:// or rediss:// connection string. Empty selects
	// the in-memory store.
	RedisURL string `toml:"redis_url"`
	TLS      bool   `toml:"tls"`
	// TLSRejectUnauthorized mirrors the conventional env toggle; false
	// skips certificate verification.
	TLSRejectUnauthorized bool `toml:"tls_reject_unauthorized"`
}

type Shopify struct {
	ShopDomain string `toml:"shop_domain"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	// AccessToken authenticates Admin API calls (customer directory).
	AccessToken     string `toml:"access_token"`
	MultipassSecret string `toml:"multipass_secret"`
}

type SMS struct {
	SMSToAPIKey   string `toml:"smsto_api_key"`
	SMSToSenderID string `toml:"smsto_sender_id"`

	TwilioAccountSID string `toml:"twilio_account_sid"`
	TwilioAuthToken  string `toml:"twilio_auth_token"`
	TwilioFromNumber string `toml:"twilio_from_number"`

	AWSRegion string `toml:"aws_region"`

	// ResendCooldownSeconds is the minimum gap between OTP sends to one
	// identity.
	ResendCooldownSeconds int `toml:"resend_cooldown_seconds"`
	// MaxSendAttempts is the per-identity send cap inside the 10-minute
	// abuse window.
	MaxSendAttempts int `toml:"max_send_attempts"`
	// CallbackBaseURL is the public base URL delivery receipts are posted
	// to, e.g. https://auth.example.com.
	CallbackBaseURL string `toml:"callback_base_url"`
}

type OAuth struct {
	GoogleClientID     string `toml:"google_client_id"`
	GoogleClientSecret string `toml:"google_client_secret"`
	GoogleRedirectURI  string `toml:"google_redirect_uri"`
}

type OTP struct {
	Length               int `toml:"length"`
	TTLSeconds           int `toml:"ttl_seconds"`
	MaxAttempts          int `toml:"max_attempts"`
	BlockDurationSeconds int `toml:"block_duration_seconds"`
}

type RateLimit struct {
	WindowMS    int `toml:"window_ms"`
	MaxRequests int `toml:"max_requests"`
}

type Worker struct {
	// Count is the number of SMS worker instances.
	Count int `toml:"count"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server:  Server{Port: 8080},
		Logging: Logging{Level: "info", Format: "json"},
		Store:   Store{TLSRejectUnauthorized: true},
		SMS: SMS{
			ResendCooldownSeconds: 30,
			MaxSendAttempts:       3,
		},
		OTP: OTP{
			Length:               6,
			TTLSeconds:           300,
			MaxAttempts:          5,
			BlockDurationSeconds: 900,
		},
		RateLimit: RateLimit{
			WindowMS:    60000,
			MaxRequests: 10,
		},
		Worker: Worker{Count: 2},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is empty, gatehouse.toml is used when present), then environment
// variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "gatehouse.toml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file.
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, name string) {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, name string) {
		if v, ok := os.LookupEnv(name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt(&c.Server.Port, "PORT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	setString(&c.Store.RedisURL, "REDIS_URL")
	setBool(&c.Store.TLS, "REDIS_TLS")
	setBool(&c.Store.TLSRejectUnauthorized, "REDIS_TLS_REJECT_UNAUTHORIZED")

	setString(&c.Shopify.ShopDomain, "SHOPIFY_SHOP_DOMAIN")
	setString(&c.Shopify.APIKey, "SHOPIFY_API_KEY")
	setString(&c.Shopify.APISecret, "SHOPIFY_API_SECRET")
	setString(&c.Shopify.AccessToken, "SHOPIFY_ACCESS_TOKEN")
	setString(&c.Shopify.MultipassSecret, "SHOPIFY_MULTIPASS_SECRET")

	setString(&c.SMS.SMSToAPIKey, "SMS_TO_API_KEY")
	setString(&c.SMS.SMSToSenderID, "SMS_TO_SENDER_ID")
	setString(&c.SMS.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.SMS.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.SMS.TwilioFromNumber, "TWILIO_FROM_NUMBER")
	setString(&c.SMS.AWSRegion, "AWS_REGION")
	setInt(&c.SMS.ResendCooldownSeconds, "SMS_RESEND_COOLDOWN_SECONDS")
	setInt(&c.SMS.MaxSendAttempts, "SMS_MAX_SEND_ATTEMPTS")
	setString(&c.SMS.CallbackBaseURL, "SMS_CALLBACK_BASE_URL")

	setString(&c.OAuth.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&c.OAuth.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.OAuth.GoogleRedirectURI, "GOOGLE_REDIRECT_URI")

	setInt(&c.OTP.Length, "OTP_LENGTH")
	setInt(&c.OTP.TTLSeconds, "OTP_TTL_SECONDS")
	setInt(&c.OTP.MaxAttempts, "OTP_MAX_ATTEMPTS")
	setInt(&c.OTP.BlockDurationSeconds, "OTP_BLOCK_DURATION_SECONDS")

	setInt(&c.RateLimit.WindowMS, "RATE_LIMIT_WINDOW_MS")
	setInt(&c.RateLimit.MaxRequests, "RATE_LIMIT_MAX_REQUESTS")

	setInt(&c.Worker.Count, "WORKER_COUNT")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	if c.Shopify.ShopDomain == "" {
		errs = append(errs, errors.New("shopify shop domain is required"))
	}
	if c.Shopify.MultipassSecret == "" {
		errs = append(errs, errors.New("shopify multipass secret is required"))
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, fmt.Errorf("otp length %d out of range (4-10)", c.OTP.Length))
	}
	if c.OTP.TTLSeconds <= 0 {
		errs = append(errs, errors.New("otp ttl must be positive"))
	}
	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("otp max attempts must be positive"))
	}
	if c.OTP.BlockDurationSeconds <= 0 {
		errs = append(errs, errors.New("otp block duration must be positive"))
	}

	if c.SMS.ResendCooldownSeconds < 0 {
		errs = append(errs, errors.New("sms resend cooldown must not be negative"))
	}
	if c.SMS.MaxSendAttempts <= 0 {
		errs = append(errs, errors.New("sms max send attempts must be positive"))
	}

	if c.RateLimit.WindowMS <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate limit max requests must be positive"))
	}

	if c.Worker.Count < 1 {
		errs = append(errs, errors.New("worker count must be at least 1"))
	}

	return errors.Join(errs...)
}

// OTPTTL returns the OTP lifetime as a duration.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTP.TTLSeconds) * time.Second
}

// OTPBlockDuration returns the verify-failure block window as a duration.
func (c *Config) OTPBlockDuration() time.Duration {
	return time.Duration(c.OTP.BlockDurationSeconds) * time.Second
}

// ResendCooldown returns the resend cooldown as a duration.
func (c *Config) ResendCooldown() time.Duration {
	return time.Duration(c.SMS.ResendCooldownSeconds) * time.Second
}

// RateLimitWindow returns the rate-limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMS) * time.Millisecond
}
