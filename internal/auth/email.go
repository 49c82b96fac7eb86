package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/gatehouse/gatehouse/internal/shopify"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LoginEmail authenticates an email/password pair. A new email creates the
// customer; a known email verifies against the stored hash. Lookup miss and
// wrong password are indistinguishable to the caller.
func (s *Service) LoginEmail(ctx context.Context, email, password string) (*Result, error) {
	if err := s.methodEnabled(ctx, "email"); err != nil {
		return nil, err
	}
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	customer, err := s.directory.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, shopify.ErrCustomerNotFound):
		customer, err = s.createWithPassword(ctx, email, password)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrDirectoryError, err)
	default:
		if err := s.verifyStoredPassword(ctx, customer.ID, password); err != nil {
			return nil, err
		}
	}

	s.recordLogin(ctx, customer.ID, "email", false)
	return s.mint(customer, email, "", "")
}

func (s *Service) createWithPassword(ctx context.Context, email, password string) (*shopify.Customer, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	customer, err := s.directory.Create(ctx, shopify.CustomerInput{
		Email: email,
		Tags:  []string{"email-auth"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryError, err)
	}
	if err := s.directory.SetMetafield(ctx, customer.ID, metaPasswordHash, hash); err != nil {
		return nil, fmt.Errorf("%w: store credential: %v", ErrDirectoryError, err)
	}
	return customer, nil
}

func (s *Service) verifyStoredPassword(ctx context.Context, customerID int64, password string) error {
	stored, err := s.directory.GetMetafield(ctx, customerID, metaPasswordHash)
	if errors.Is(err, shopify.ErrMetafieldNotFound) {
		// The customer was created through another channel and has no
		// password yet; the first password login binds one.
		hash, hashErr := HashPassword(password)
		if hashErr != nil {
			return fmt.Errorf("hash password: %w", hashErr)
		}
		if err := s.directory.SetMetafield(ctx, customerID, metaPasswordHash, hash); err != nil {
			return fmt.Errorf("%w: store credential: %v", ErrDirectoryError, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryError, err)
	}

	ok, err := VerifyPassword(password, stored)
	if err != nil || !ok {
		// Same sentinel and message shape as a lookup miss would give.
		return ErrBadCredentials
	}
	return nil
}
