// Package keyval defines the TTL-keyed store every stateful component binds
// to: OTP records, abuse counters, delivery tracking, settings cache, and
// rate-limit windows. The interface is satisfied by a Redis client and by an
// in-memory map; callers cannot tell them apart.
package keyval

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and PTTL when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// ErrStoreUnavailable wraps any transient backend failure. Callers treat
// tracking writes as best-effort and challenge reads/writes as fatal to the
// in-flight request.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the keyed TTL store contract. All operations are safe under
// parallel access; Incr, IncrWindow, SetIfAbsent, and DelIfEquals are atomic.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key with the given TTL, overwriting any prior value.
	// ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent writes key only when it does not exist. Returns true when
	// the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer at key and returns the new
	// value. A missing key counts from zero and carries no expiry.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrWindow atomically increments the integer at key, setting the TTL
	// to window on the first increment only. This is the fixed-window
	// counter primitive.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// Expire resets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// PTTL returns the remaining TTL for key. Zero means the key has no
	// expiry; ErrNotFound means the key is absent.
	PTTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// DelIfEquals atomically removes key only when its current value equals
	// value, returning true when the key was removed. This is the consume
	// primitive for one-shot tokens: under concurrent callers exactly one
	// delete wins.
	DelIfEquals(ctx context.Context, key, value string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Publish sends payload to all subscribers of channel. Used for
	// delivery-receipt fan-out; delivery is at-most-once.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe returns a channel of payloads published to channel and a
	// cancel function that releases the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
