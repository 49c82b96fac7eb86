package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/gatehouse/gatehouse/internal/keyval"
)

const (
	orderKeyPrefix = "order:otp:"
	orderCodeTTL   = 10 * time.Minute
)

// OrderConfirmation issues and verifies codes bound to a single order. The
// key family is separate from authentication OTPs, so mismatches here never
// count toward auth blocks.
type OrderConfirmation struct {
	store keyval.Store
}

// NewOrderConfirmation creates an order-confirmation engine.
func NewOrderConfirmation(store keyval.Store) *OrderConfirmation {
	return &OrderConfirmation{store: store}
}

// Issue draws a six-digit code for orderID, valid 10 minutes. Reissuing
// replaces the live code.
func (o *OrderConfirmation) Issue(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("order id is empty")
	}
	code, err := GenerateCode(6)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := o.store.Set(ctx, orderKeyPrefix+orderID, code, orderCodeTTL); err != nil {
		return "", err
	}
	return code, nil
}

// Verify reports whether candidate is the live code for orderID. Success
// consumes the code; codes are never valid for a different order.
func (o *OrderConfirmation) Verify(ctx context.Context, orderID, candidate string) (bool, error) {
	code, err := o.store.Get(ctx, orderKeyPrefix+orderID)
	if errors.Is(err, keyval.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) != 1 {
		return false, nil
	}
	// The delete doubles as the consume step: of any concurrent verifies
	// holding the same code, only the one that removes the key succeeds.
	return o.store.DelIfEquals(ctx, orderKeyPrefix+orderID, code)
}
