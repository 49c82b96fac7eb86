// Package sms contains the provider adapters and the priority router that
// deliver text messages. Adapters translate each vendor API to one contract;
// the router handles fallback, rotation, and delivery tracking.
package sms

import (
	"context"
	"errors"
)

// DeliveryStatus is the canonical delivery vocabulary all adapters map into.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// ErrPollUnsupported is returned by Poll on providers without a delivery
// query API.
var ErrPollUnsupported = errors.New("delivery polling not supported")

// SendResult reports the outcome of a provider send. A vendor-reported
// rejection arrives as OK=false with nil error; a transport failure arrives
// as a non-nil error. The router treats both as failures.
type SendResult struct {
	OK        bool
	MessageID string
	// Status is the delivery status the vendor guarantees at accept time.
	// Adapters without a receipt channel report sent, since pending would
	// never advance; empty means pending.
	Status DeliveryStatus
	// Detail carries the vendor's failure description for logs. Never
	// shown to callers.
	Detail string
}

// Receipt is a parsed delivery callback.
type Receipt struct {
	MessageID     string
	Status        DeliveryStatus
	FailureReason string
}

// Provider is one SMS vendor adapter. Adapters never retry internally;
// retries belong to the worker and fallback to the router.
type Provider interface {
	// Name identifies the provider in tracking records and logs.
	Name() string

	// Priority orders providers for fallback; lower runs first.
	Priority() int

	// Send dispatches one message. callbackURL, when non-empty, asks the
	// vendor to post delivery receipts there.
	Send(ctx context.Context, to, body, callbackURL string) (*SendResult, error)

	// Poll queries the vendor for the delivery status of a sent message.
	Poll(ctx context.Context, messageID string) (DeliveryStatus, error)

	// ParseReceipt decodes a vendor delivery callback payload.
	ParseReceipt(payload []byte) (*Receipt, error)
}
