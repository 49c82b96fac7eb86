package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Log is a dev-mode provider that writes messages to the logger instead of
// sending them.
type Log struct {
	logger   *slog.Logger
	priority int
}

// NewLog creates a logging provider.
func NewLog(logger *slog.Logger, priority int) *Log {
	return &Log{logger: logger, priority: priority}
}

func (l *Log) Name() string  { return "log" }
func (l *Log) Priority() int { return l.priority }

func (l *Log) Send(_ context.Context, to, body, _ string) (*SendResult, error) {
	id := uuid.NewString()
	l.logger.Info("sms (log provider)", "to", to, "body", body, "message_id", id)
	return &SendResult{OK: true, MessageID: id, Status: StatusSent}, nil
}

func (l *Log) Poll(context.Context, string) (DeliveryStatus, error) {
	return StatusSent, nil
}

func (l *Log) ParseReceipt([]byte) (*Receipt, error) {
	return nil, fmt.Errorf("log: delivery receipts not supported")
}
