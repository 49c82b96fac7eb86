package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/keyval"
)

// ErrAllProvidersFailed is returned when every provider rejected the send.
var ErrAllProvidersFailed = errors.New("all sms providers failed")

// SendParams describes one outbound message.
type SendParams struct {
	// Identity is the recipient handle used for tracking keys, normally
	// the E.164 phone number.
	Identity string
	To       string
	Body     string
	// CallbackURL is passed to providers that support delivery receipts.
	CallbackURL string
}

// Router dispatches messages across providers in priority order, rotates
// providers on resends, and tracks delivery state in the store.
type Router struct {
	providers []Provider
	store     keyval.Store
	clk       clock.Clock
	logger    *slog.Logger
}

// NewRouter builds a router over the given providers. The priority order is
// fixed at construction.
func NewRouter(providers []Provider, store keyval.Store, clk clock.Clock, logger *slog.Logger) *Router {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Router{providers: sorted, store: store, clk: clk, logger: logger}
}

// Providers returns the priority-ordered provider names.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Send tries each provider in priority order and returns the first success.
// A vendor rejection and a transport error both advance to the next
// provider.
func (r *Router) Send(ctx context.Context, params SendParams) (*SendResult, error) {
	return r.attempt(ctx, params, r.providers)
}

// SendWithRotation starts from the circular successor of lastProvider (or of
// the stored last-provider hint when lastProvider is empty), then falls back
// through the remaining providers in priority order.
func (r *Router) SendWithRotation(ctx context.Context, params SendParams, lastProvider string) (*SendResult, error) {
	if lastProvider == "" {
		if hint, err := r.store.Get(ctx, lastProviderKeyPrefix+params.Identity); err == nil {
			lastProvider = hint
		}
	}
	return r.attempt(ctx, params, r.rotatedOrder(lastProvider))
}

// rotatedOrder puts the successor of lastProvider first, then the remaining
// providers in priority order. Unknown or empty lastProvider keeps the
// priority order.
func (r *Router) rotatedOrder(lastProvider string) []Provider {
	if len(r.providers) < 2 {
		return r.providers
	}
	last := -1
	for i, p := range r.providers {
		if p.Name() == lastProvider {
			last = i
			break
		}
	}
	if last == -1 {
		return r.providers
	}
	candidate := (last + 1) % len(r.providers)

	order := make([]Provider, 0, len(r.providers))
	order = append(order, r.providers[candidate])
	for i, p := range r.providers {
		if i != candidate {
			order = append(order, p)
		}
	}
	return order
}

func (r *Router) attempt(ctx context.Context, params SendParams, order []Provider) (*SendResult, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrAllProvidersFailed)
	}

	var lastErr error
	for _, p := range order {
		result, err := p.Send(ctx, params.To, params.Body, params.CallbackURL)
		if err != nil {
			r.logger.Warn("provider send failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		if !result.OK {
			r.logger.Warn("provider rejected send", "provider", p.Name(), "detail", result.Detail)
			lastErr = fmt.Errorf("%s: %s", p.Name(), result.Detail)
			continue
		}
		r.track(ctx, params.Identity, p.Name(), result.MessageID, result.Status)
		return result, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// track writes the DeliveryRecord and the last-provider hint. Records start
// at the status the provider could guarantee, so receipt-less vendors never
// strand a message at pending. Tracking failures never fail the send.
func (r *Router) track(ctx context.Context, identity, provider, messageID string, status DeliveryStatus) {
	if status == "" {
		status = StatusPending
	}
	record := DeliveryRecord{
		Identity: identity,
		Provider: provider,
		Status:   status,
		SentAt:   r.clk.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		r.logger.Error("encode delivery record", "error", err)
		return
	}
	if err := r.store.Set(ctx, deliveryKeyPrefix+messageID, string(data), deliveryTTL); err != nil {
		r.logger.Warn("write delivery record", "message_id", messageID, "error", err)
	}
	if err := r.store.Set(ctx, lastProviderKeyPrefix+identity, provider, lastProviderTTL); err != nil {
		r.logger.Warn("write last-provider hint", "identity", identity, "error", err)
	}
}

// GetDelivery returns the tracked record for messageID, or keyval.ErrNotFound.
func (r *Router) GetDelivery(ctx context.Context, messageID string) (*DeliveryRecord, error) {
	raw, err := r.store.Get(ctx, deliveryKeyPrefix+messageID)
	if err != nil {
		return nil, err
	}
	var record DeliveryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode delivery record: %w", err)
	}
	return &record, nil
}

// UpdateDelivery applies a status transition to the tracked record. Unknown
// messages, repeats, and backwards transitions are no-ops. Each accepted
// update is republished on DLRChannel.
func (r *Router) UpdateDelivery(ctx context.Context, messageID string, status DeliveryStatus, failureReason string) error {
	key := deliveryKeyPrefix + messageID
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, keyval.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var record DeliveryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("decode delivery record: %w", err)
	}
	if !advances(record.Status, status) {
		return nil
	}

	record.Status = status
	if status == StatusDelivered {
		now := r.clk.Now().UTC()
		record.DeliveredAt = &now
	}
	if failureReason != "" {
		record.FailureReason = failureReason
	}

	ttl, err := r.store.PTTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = deliveryTTL
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode delivery record: %w", err)
	}
	if err := r.store.Set(ctx, key, string(data), ttl); err != nil {
		return err
	}

	event, _ := json.Marshal(map[string]string{
		"messageId": messageID,
		"status":    string(status),
	})
	if err := r.store.Publish(ctx, DLRChannel, string(event)); err != nil {
		r.logger.Warn("publish delivery update", "message_id", messageID, "error", err)
	}
	return nil
}
