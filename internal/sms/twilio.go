package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// Twilio sends messages through the Twilio Messages API. Delivery receipts
// arrive form-encoded on the StatusCallback URL.
type Twilio struct {
	accountSID string
	authToken  string
	from       string
	priority   int
	baseURL    string
	client     *http.Client
}

// NewTwilio creates a Twilio adapter.
func NewTwilio(accountSID, authToken, from string, priority int) *Twilio {
	return &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		priority:   priority,
		baseURL:    twilioDefaultBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local server.
func (t *Twilio) SetBaseURL(u string) { t.baseURL = strings.TrimSuffix(u, "/") }

func (t *Twilio) Name() string  { return "twilio" }
func (t *Twilio) Priority() int { return t.priority }

type twilioSendResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, to, body, callbackURL string) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)
	if callbackURL != "" {
		form.Set("StatusCallback", callbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}

	var parsed twilioSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("twilio: decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 {
		detail := parsed.Message
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return &SendResult{OK: false, Detail: detail}, nil
	}
	if twilioStatus(parsed.Status) == StatusFailed {
		return &SendResult{OK: false, MessageID: parsed.SID, Detail: parsed.ErrorMessage}, nil
	}
	return &SendResult{OK: true, MessageID: parsed.SID}, nil
}

func (t *Twilio) Poll(ctx context.Context, messageID string) (DeliveryStatus, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", t.baseURL, t.accountSID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio: poll: HTTP %d", resp.StatusCode)
	}

	var parsed twilioSendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("twilio: decode poll response: %w", err)
	}
	return twilioStatus(parsed.Status), nil
}

// ParseReceipt decodes Twilio's form-encoded status callback.
func (t *Twilio) ParseReceipt(payload []byte) (*Receipt, error) {
	form, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("twilio: decode receipt: %w", err)
	}
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	if sid == "" {
		return nil, fmt.Errorf("twilio: receipt missing MessageSid")
	}
	return &Receipt{
		MessageID:     sid,
		Status:        twilioStatus(form.Get("MessageStatus")),
		FailureReason: form.Get("ErrorMessage"),
	}, nil
}

func twilioStatus(s string) DeliveryStatus {
	switch strings.ToLower(s) {
	case "delivered", "read":
		return StatusDelivered
	case "sent":
		return StatusSent
	case "failed", "undelivered", "canceled":
		return StatusFailed
	default:
		// queued, accepted, sending, scheduled
		return StatusPending
	}
}
