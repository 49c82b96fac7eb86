// Package auth orchestrates the three login flows: SMS OTP, email/password,
// and Google OAuth. Every successful flow ends in a minted Multipass URL;
// every failure maps to one of the package sentinels, which the HTTP layer
// converts to status codes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/jobs"
	"github.com/gatehouse/gatehouse/internal/keyval"
	"github.com/gatehouse/gatehouse/internal/multipass"
	"github.com/gatehouse/gatehouse/internal/otp"
	"github.com/gatehouse/gatehouse/internal/settings"
	"github.com/gatehouse/gatehouse/internal/shopify"
)

// Failure sentinels, one per outcome class.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrMethodDisabled   = errors.New("login method disabled")
	ErrBlocked          = errors.New("identity blocked")
	ErrCooldownActive   = errors.New("resend cooldown active")
	ErrSendRateExceeded = errors.New("send rate exceeded")
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrProviderError    = errors.New("provider failure")
	ErrDirectoryError   = errors.New("customer directory failure")
	ErrMintError        = errors.New("token minting failure")
)

// Metafield keys written on login.
const (
	metaAuthMethod    = "auth_method"
	metaPhoneVerified = "phone_verified"
	metaLastLogin     = "last_login"
	metaPasswordHash  = "password_hash"
)

// Result is a successful login outcome.
type Result struct {
	MultipassURL string
	CustomerID   int64
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store     keyval.Store
	OTP       *otp.Engine
	Queue     jobs.Queue
	Minter    *multipass.Minter
	Directory shopify.Directory
	Settings  *settings.Provider
	Clock     clock.Clock
	Logger    *slog.Logger

	// DLRCallbackURL is handed to SMS providers for delivery receipts.
	DLRCallbackURL string
	// CooldownSeconds is echoed to callers after a code request.
	CooldownSeconds int
	// Google configures the OAuth flow; nil disables it.
	Google *OAuthProvider
	// OrderOTP handles order-confirmation codes.
	OrderOTP *otp.OrderConfirmation
}

// Service is the authentication orchestrator.
type Service struct {
	store     keyval.Store
	otp       *otp.Engine
	queue     jobs.Queue
	minter    *multipass.Minter
	directory shopify.Directory
	settings  *settings.Provider
	clk       clock.Clock
	logger    *slog.Logger

	dlrCallbackURL  string
	cooldownSeconds int
	google          *OAuthProvider
	orderOTP        *otp.OrderConfirmation
}

// NewService builds the orchestrator.
func NewService(opts Options) *Service {
	if opts.CooldownSeconds == 0 {
		opts.CooldownSeconds = 30
	}
	return &Service{
		store:           opts.Store,
		otp:             opts.OTP,
		queue:           opts.Queue,
		minter:          opts.Minter,
		directory:       opts.Directory,
		settings:        opts.Settings,
		clk:             opts.Clock,
		logger:          opts.Logger,
		dlrCallbackURL:  opts.DLRCallbackURL,
		cooldownSeconds: opts.CooldownSeconds,
		google:          opts.Google,
		orderOTP:        opts.OrderOTP,
	}
}

// methodEnabled consults merchant settings. Settings-store failures admit
// the method so a degraded store never locks every customer out.
func (s *Service) methodEnabled(ctx context.Context, method string) error {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("settings read failed, admitting method", "method", method, "error", err)
		return nil
	}
	if !cfg.MethodEnabled(method) {
		return fmt.Errorf("%w: %s", ErrMethodDisabled, method)
	}
	return nil
}

// mint assembles and validates the Multipass URL for a customer.
func (s *Service) mint(customer *shopify.Customer, fallbackEmail, returnTo, cartToken string) (*Result, error) {
	email := customer.Email
	if email == "" {
		email = fallbackEmail
	}
	input := multipass.Input{
		Email:      email,
		CreatedAt:  s.clk.Now().UTC(),
		FirstName:  customer.FirstName,
		LastName:   customer.LastName,
		Identifier: strconv.FormatInt(customer.ID, 10),
		ReturnTo:   returnTo,
	}
	loginURL, err := s.minter.LoginURL(input, multipass.URLOptions{
		ReturnTo:  returnTo,
		CartToken: cartToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMintError, err)
	}
	return &Result{MultipassURL: loginURL, CustomerID: customer.ID}, nil
}

// recordLogin writes the login metadata. Best effort: directory tracking
// failures never fail the login.
func (s *Service) recordLogin(ctx context.Context, customerID int64, method string, phoneVerified bool) {
	fields := map[string]string{
		metaAuthMethod: method,
		metaLastLogin:  s.clk.Now().UTC().Format(time.RFC3339),
	}
	if phoneVerified {
		fields[metaPhoneVerified] = "true"
	}
	if err := s.directory.UpdateMetadata(ctx, customerID, fields); err != nil {
		s.logger.Warn("record login metadata", "customer_id", customerID, "error", err)
	}
}
