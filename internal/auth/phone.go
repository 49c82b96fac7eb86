package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gatehouse/gatehouse/internal/jobs"
	"github.com/gatehouse/gatehouse/internal/otp"
	"github.com/gatehouse/gatehouse/internal/shopify"
	"github.com/gatehouse/gatehouse/internal/sms"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// otpMessage is the SMS body for verification codes.
const otpMessage = "Your verification code is: %s. Valid for 5 minutes."

// syntheticEmail derives the placeholder address for phone-only customers.
func syntheticEmail(phone string) string {
	return phone + "@phone.local"
}

// RequestCode issues an OTP for phone and enqueues its SMS. Success means
// accepted for delivery, not delivered; the returned seconds are the resend
// cooldown.
func (s *Service) RequestCode(ctx context.Context, phone string) (int, error) {
	if err := s.methodEnabled(ctx, "sms"); err != nil {
		return 0, err
	}

	normalized, err := sms.NormalizePhone(phone)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	code, err := s.otp.Issue(ctx, normalized)
	if err != nil {
		return 0, mapOTPError(err)
	}

	job := jobs.NewJob(normalized, normalized, fmt.Sprintf(otpMessage, code), s.dlrCallbackURL)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return 0, fmt.Errorf("%w: enqueue sms: %v", ErrProviderError, err)
	}

	s.logger.Info("otp issued", "identity", normalized, "job_id", job.ID)
	return s.cooldownSeconds, nil
}

// VerifyCode checks the candidate, finds or creates the customer, and mints
// the login URL.
func (s *Service) VerifyCode(ctx context.Context, phone, candidate string) (*Result, error) {
	normalized, err := sms.NormalizePhone(phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !codePattern.MatchString(candidate) {
		return nil, fmt.Errorf("%w: code must be six digits", ErrInvalidInput)
	}

	if err := s.otp.Verify(ctx, normalized, candidate); err != nil {
		return nil, mapOTPError(err)
	}

	customer, err := s.directory.FindByPhone(ctx, normalized)
	if errors.Is(err, shopify.ErrCustomerNotFound) {
		customer, err = s.directory.Create(ctx, shopify.CustomerInput{
			Email: syntheticEmail(normalized),
			Phone: normalized,
			Tags:  []string{"sms-auth"},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryError, err)
	}

	s.recordLogin(ctx, customer.ID, "sms", true)
	return s.mint(customer, syntheticEmail(normalized), "", "")
}

// RetrySeconds reports how long the caller of a failed phone operation
// should wait, from the live block or cooldown TTL. Zero means no live
// restriction was found.
func (s *Service) RetrySeconds(ctx context.Context, phone string, cause error) int {
	normalized, err := sms.NormalizePhone(phone)
	if err != nil {
		return 0
	}

	var remaining time.Duration
	switch {
	case errors.Is(cause, ErrCooldownActive):
		remaining = s.otp.CooldownRemaining(ctx, normalized)
	case errors.Is(cause, ErrBlocked), errors.Is(cause, ErrSendRateExceeded):
		remaining = s.otp.BlockRemaining(ctx, normalized)
	}
	if remaining <= 0 {
		return 0
	}
	seconds := int(remaining.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func mapOTPError(err error) error {
	switch {
	case errors.Is(err, otp.ErrBlocked):
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	case errors.Is(err, otp.ErrCooldownActive):
		return fmt.Errorf("%w: %v", ErrCooldownActive, err)
	case errors.Is(err, otp.ErrSendRateExceeded):
		return fmt.Errorf("%w: %v", ErrSendRateExceeded, err)
	case errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrMismatch):
		return fmt.Errorf("%w: %v", ErrBadCredentials, err)
	default:
		return err
	}
}
