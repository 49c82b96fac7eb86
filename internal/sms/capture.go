package sms

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// CapturedMessage records one Send call on a Capture provider.
type CapturedMessage struct {
	To          string
	Body        string
	CallbackURL string
	MessageID   string
}

// Capture is a test provider that records sends and can be scripted to fail.
type Capture struct {
	mu       sync.Mutex
	name     string
	priority int
	messages []CapturedMessage

	// failNext makes the next N sends report OK=false.
	failNext int
	// errNext makes the next N sends return a transport error.
	errNext int
	// failed counts sends that were scripted to fail.
	failed int
	// status is what Poll reports.
	status DeliveryStatus
}

// NewCapture creates a capture provider with the given name and priority.
func NewCapture(name string, priority int) *Capture {
	return &Capture{name: name, priority: priority, status: StatusSent}
}

func (c *Capture) Name() string  { return c.name }
func (c *Capture) Priority() int { return c.priority }

// FailNext scripts the next n sends to return a vendor rejection.
func (c *Capture) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// ErrNext scripts the next n sends to return a transport error.
func (c *Capture) ErrNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errNext = n
}

// SetStatus scripts what Poll reports.
func (c *Capture) SetStatus(s DeliveryStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Messages returns a copy of all captured sends.
func (c *Capture) Messages() []CapturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastMessage returns the most recent captured send, or nil.
func (c *Capture) LastMessage() *CapturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	msg := c.messages[len(c.messages)-1]
	return &msg
}

// SendCount returns how many Send calls were made, including failures.
func (c *Capture) SendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) + c.failed
}

func (c *Capture) Send(_ context.Context, to, body, callbackURL string) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errNext > 0 {
		c.errNext--
		c.failed++
		return nil, fmt.Errorf("%s: connection refused", c.name)
	}
	if c.failNext > 0 {
		c.failNext--
		c.failed++
		return &SendResult{OK: false, Detail: "rejected by carrier"}, nil
	}
	msg := CapturedMessage{
		To:          to,
		Body:        body,
		CallbackURL: callbackURL,
		MessageID:   uuid.NewString(),
	}
	c.messages = append(c.messages, msg)
	return &SendResult{OK: true, MessageID: msg.MessageID}, nil
}

func (c *Capture) Poll(context.Context, string) (DeliveryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, nil
}

func (c *Capture) ParseReceipt([]byte) (*Receipt, error) {
	return nil, fmt.Errorf("%s: delivery receipts not supported", c.name)
}
