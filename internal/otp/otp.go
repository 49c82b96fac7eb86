// Package otp issues and verifies short-lived numeric codes, tracking
// per-identity attempt, block, and cooldown state in the keyed store. It also
// hosts the order-confirmation variant and the SMS template renderer.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/keyval"
)

// Verification and issue outcomes.
var (
	// ErrBlocked means the identity is under a verify-failure or send-rate
	// block.
	ErrBlocked = errors.New("identity is blocked")
	// ErrCooldownActive means a code was sent too recently.
	ErrCooldownActive = errors.New("resend cooldown active")
	// ErrSendRateExceeded means the identity hit the send cap for the
	// current window.
	ErrSendRateExceeded = errors.New("send rate exceeded")
	// ErrExpired means no live code exists for the identity.
	ErrExpired = errors.New("code expired or not issued")
	// ErrMismatch means the candidate did not match the live code.
	ErrMismatch = errors.New("code mismatch")
)

const (
	codeKeyPrefix     = "otp:"
	blockKeyPrefix    = "otp:block:"
	triesKeyPrefix    = "otp:tries:"
	failKeyPrefix     = "otp:fail:"
	attemptsKeyPrefix = "sms:attempts:"
	sendBlockPrefix   = "sms:block:"
	cooldownKeyPrefix = "sms:cooldown:"

	// recordMaxTries invalidates a single code after this many mismatches.
	recordMaxTries = 3

	failureWindow     = 15 * time.Minute
	sendWindow        = 10 * time.Minute
	sendBlockDuration = 10 * time.Minute
)

// Options tunes the engine. Zero values fall back to the service defaults.
type Options struct {
	// Length is the number of code digits.
	Length int
	// TTL is the code lifetime.
	TTL time.Duration
	// MaxFailures is the cumulative mismatch count (across issuances,
	// inside a 15-minute window) that triggers a block.
	MaxFailures int
	// BlockDuration is how long a verify-failure block lasts.
	BlockDuration time.Duration
	// ResendCooldown is the minimum gap between sends to one identity.
	ResendCooldown time.Duration
	// MaxSends is the send cap inside the 10-minute window.
	MaxSends int
}

func (o Options) withDefaults() Options {
	if o.Length == 0 {
		o.Length = 6
	}
	if o.TTL == 0 {
		o.TTL = 5 * time.Minute
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.BlockDuration == 0 {
		o.BlockDuration = 15 * time.Minute
	}
	if o.ResendCooldown == 0 {
		o.ResendCooldown = 30 * time.Second
	}
	if o.MaxSends == 0 {
		o.MaxSends = 3
	}
	return o
}

type codeRecord struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// Engine manages the OTP lifecycle for one store.
type Engine struct {
	store keyval.Store
	clk   clock.Clock
	opts  Options
}

// NewEngine creates an engine with the given options.
func NewEngine(store keyval.Store, clk clock.Clock, opts Options) *Engine {
	return &Engine{store: store, clk: clk, opts: opts.withDefaults()}
}

// Issue draws a fresh code for identity, superseding any live one, and
// arms the cooldown and send-rate windows. Fails with ErrBlocked,
// ErrCooldownActive, or ErrSendRateExceeded.
func (e *Engine) Issue(ctx context.Context, identity string) (string, error) {
	blocked, err := e.anyExists(ctx, blockKeyPrefix+identity, sendBlockPrefix+identity)
	if err != nil {
		return "", err
	}
	if blocked {
		return "", ErrBlocked
	}

	onCooldown, err := e.store.Exists(ctx, cooldownKeyPrefix+identity)
	if err != nil {
		return "", err
	}
	if onCooldown {
		return "", ErrCooldownActive
	}

	sends, err := e.store.IncrWindow(ctx, attemptsKeyPrefix+identity, sendWindow)
	if err != nil {
		return "", err
	}
	if sends > int64(e.opts.MaxSends) {
		if err := e.store.Set(ctx, sendBlockPrefix+identity, "1", sendBlockDuration); err != nil {
			return "", err
		}
		return "", ErrSendRateExceeded
	}

	code, err := GenerateCode(e.opts.Length)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	record, err := json.Marshal(codeRecord{Code: code, CreatedAt: e.clk.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encode code record: %w", err)
	}
	if err := e.store.Set(ctx, codeKeyPrefix+identity, string(record), e.opts.TTL); err != nil {
		return "", err
	}
	// A fresh code starts with a clean per-record attempt counter.
	if err := e.store.Del(ctx, triesKeyPrefix+identity); err != nil {
		return "", err
	}
	if err := e.store.Set(ctx, cooldownKeyPrefix+identity, "1", e.opts.ResendCooldown); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks candidate against the live code. Success consumes the code.
// Fails with ErrBlocked, ErrExpired, or ErrMismatch.
func (e *Engine) Verify(ctx context.Context, identity, candidate string) error {
	blocked, err := e.store.Exists(ctx, blockKeyPrefix+identity)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}

	raw, err := e.store.Get(ctx, codeKeyPrefix+identity)
	if errors.Is(err, keyval.ErrNotFound) {
		return ErrExpired
	}
	if err != nil {
		return err
	}

	var record codeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("decode code record: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(record.Code)) == 1 {
		// Consume the exact record we compared against. Concurrent verifies
		// race on this delete, so at most one returns success; the losers
		// see the code as already spent.
		won, err := e.store.DelIfEquals(ctx, codeKeyPrefix+identity, raw)
		if err != nil {
			return err
		}
		if !won {
			return ErrExpired
		}
		if err := e.store.Del(ctx, triesKeyPrefix+identity); err != nil {
			return err
		}
		return nil
	}

	tries, err := e.store.Incr(ctx, triesKeyPrefix+identity)
	if err != nil {
		return err
	}
	if tries >= recordMaxTries {
		if err := e.store.Del(ctx, codeKeyPrefix+identity, triesKeyPrefix+identity); err != nil {
			return err
		}
	}

	failures, err := e.store.IncrWindow(ctx, failKeyPrefix+identity, failureWindow)
	if err != nil {
		return err
	}
	if failures >= int64(e.opts.MaxFailures) {
		if err := e.store.Set(ctx, blockKeyPrefix+identity, "1", e.opts.BlockDuration); err != nil {
			return err
		}
		if err := e.store.Del(ctx, codeKeyPrefix+identity, triesKeyPrefix+identity, failKeyPrefix+identity); err != nil {
			return err
		}
	}
	return ErrMismatch
}

// BlockRemaining reports how long the identity stays blocked, zero when it
// is not.
func (e *Engine) BlockRemaining(ctx context.Context, identity string) time.Duration {
	return e.longestTTL(ctx, blockKeyPrefix+identity, sendBlockPrefix+identity)
}

// CooldownRemaining reports the remaining resend cooldown, zero when none.
func (e *Engine) CooldownRemaining(ctx context.Context, identity string) time.Duration {
	return e.longestTTL(ctx, cooldownKeyPrefix+identity)
}

func (e *Engine) anyExists(ctx context.Context, keys ...string) (bool, error) {
	for _, key := range keys {
		ok, err := e.store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) longestTTL(ctx context.Context, keys ...string) time.Duration {
	var longest time.Duration
	for _, key := range keys {
		d, err := e.store.PTTL(ctx, key)
		if err == nil && d > longest {
			longest = d
		}
	}
	return longest
}

// GenerateCode draws length uniform decimal digits from a cryptographically
// strong source. Leading zeros are preserved.
func GenerateCode(length int) (string, error) {
	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
