package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const smstoDefaultBaseURL = "https://api.sms.to"

// SMSTo sends messages through the SMS.to JSON API. SMS.to posts signed
// delivery receipts to the callback URL supplied on send.
type SMSTo struct {
	apiKey   string
	senderID string
	priority int
	baseURL  string
	client   *http.Client
}

// NewSMSTo creates an SMS.to adapter.
func NewSMSTo(apiKey, senderID string, priority int) *SMSTo {
	return &SMSTo{
		apiKey:   apiKey,
		senderID: senderID,
		priority: priority,
		baseURL:  smstoDefaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local server.
func (s *SMSTo) SetBaseURL(u string) { s.baseURL = strings.TrimSuffix(u, "/") }

func (s *SMSTo) Name() string  { return "smsto" }
func (s *SMSTo) Priority() int { return s.priority }

type smstoSendRequest struct {
	Message     string `json:"message"`
	To          string `json:"to"`
	SenderID    string `json:"sender_id,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type smstoSendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

func (s *SMSTo) Send(ctx context.Context, to, body, callbackURL string) (*SendResult, error) {
	payload, err := json.Marshal(smstoSendRequest{
		Message:     body,
		To:          to,
		SenderID:    s.senderID,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("smsto: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sms/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("smsto: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smsto: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("smsto: read response: %w", err)
	}

	var parsed smstoSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("smsto: decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 || !parsed.Success {
		detail := parsed.Message
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return &SendResult{OK: false, Detail: detail}, nil
	}
	return &SendResult{OK: true, MessageID: parsed.MessageID}, nil
}

type smstoMessageResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

func (s *SMSTo) Poll(ctx context.Context, messageID string) (DeliveryStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/message/"+messageID, nil)
	if err != nil {
		return "", fmt.Errorf("smsto: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("smsto: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("smsto: poll: HTTP %d", resp.StatusCode)
	}

	var parsed smstoMessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("smsto: decode poll response: %w", err)
	}
	return smstoStatus(parsed.Status), nil
}

func (s *SMSTo) ParseReceipt(payload []byte) (*Receipt, error) {
	var parsed smstoMessageResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("smsto: decode receipt: %w", err)
	}
	if parsed.MessageID == "" {
		return nil, fmt.Errorf("smsto: receipt missing message_id")
	}
	return &Receipt{
		MessageID:     parsed.MessageID,
		Status:        smstoStatus(parsed.Status),
		FailureReason: parsed.Reason,
	}, nil
}

func smstoStatus(s string) DeliveryStatus {
	switch strings.ToUpper(s) {
	case "DELIVERED":
		return StatusDelivered
	case "SENT", "ACCEPTED":
		return StatusSent
	case "FAILED", "UNDELIVERED", "REJECTED", "EXPIRED":
		return StatusFailed
	default:
		return StatusPending
	}
}
