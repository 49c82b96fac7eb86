package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gatehouse/gatehouse/internal/shopify"
)

// snapshotFreshness bounds how old a client-held snapshot may be.
const snapshotFreshness = 5 * time.Minute

// SessionSnapshot is the client-held checkout state echoed back into the
// login URL. The service never stores it and trusts nothing beyond shape
// and freshness.
type SessionSnapshot struct {
	CheckoutURL string `json:"checkout_url"`
	TimestampMS int64  `json:"timestamp_ms"`
	CartToken   string `json:"cart_token,omitempty"`
}

// RestoreSession re-authenticates a known customer into their checkout. The
// snapshot must be fresh and its checkout URL absolute; the email must
// belong to an existing customer.
func (s *Service) RestoreSession(ctx context.Context, email string, snapshot SessionSnapshot) (*Result, error) {
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if snapshot.CheckoutURL == "" || snapshot.TimestampMS <= 0 {
		return nil, fmt.Errorf("%w: incomplete session snapshot", ErrInvalidInput)
	}
	u, err := url.Parse(snapshot.CheckoutURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: checkout url must be absolute", ErrInvalidInput)
	}

	age := s.clk.Now().Sub(time.UnixMilli(snapshot.TimestampMS))
	if age < 0 {
		age = -age
	}
	if age > snapshotFreshness {
		return nil, fmt.Errorf("%w: session snapshot expired", ErrBadCredentials)
	}

	customer, err := s.directory.FindByEmail(ctx, email)
	if errors.Is(err, shopify.ErrCustomerNotFound) {
		// Restoring never creates accounts.
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryError, err)
	}

	return s.mint(customer, email, snapshot.CheckoutURL, snapshot.CartToken)
}
