package sms

import (
	"time"
)

const (
	deliveryKeyPrefix     = "sms:delivery:"
	lastProviderKeyPrefix = "sms:last_provider:"

	deliveryTTL     = 24 * time.Hour
	lastProviderTTL = time.Hour

	// DLRChannel carries accepted delivery-status updates for subscribers.
	DLRChannel = "sms:dlr"
)

// DeliveryRecord tracks one dispatched message until its TTL lapses.
type DeliveryRecord struct {
	Identity      string         `json:"identity"`
	Provider      string         `json:"provider"`
	Status        DeliveryStatus `json:"status"`
	SentAt        time.Time      `json:"sentAt"`
	DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
}

// statusRank orders the monotonic progression pending < sent < delivered.
// Failed is terminal.
func statusRank(s DeliveryStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusFailed:
		return 3
	default:
		return -1
	}
}

// advances reports whether moving from current to next is a legal
// transition. Terminal states never move, and status never goes backwards.
func advances(current, next DeliveryStatus) bool {
	if current == StatusFailed || current == StatusDelivered {
		return false
	}
	return statusRank(next) > statusRank(current)
}
