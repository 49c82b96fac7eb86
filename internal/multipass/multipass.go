// Package multipass mints Shopify Multipass login tokens. The format is
// fixed by Shopify's decoder: AES-128-CBC over canonical JSON, HMAC-SHA256
// over IV plus ciphertext, base64url without padding.
package multipass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
)

// freshnessWindow bounds how far created_at may drift from now at mint time.
const freshnessWindow = 5 * time.Minute

var (
	// ErrInvalidInput is returned for inputs that fail validation.
	ErrInvalidInput = errors.New("invalid multipass input")
	// ErrStale is returned when created_at falls outside the freshness
	// window.
	ErrStale = errors.New("created_at outside freshness window")
)

// Input is the customer record embedded in the token. CreatedAt is required
// and must be UTC; optional fields are omitted from the payload when empty.
type Input struct {
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"-"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	ReturnTo   string    `json:"return_to,omitempty"`
}

// URLOptions adds query parameters to the login URL.
type URLOptions struct {
	ReturnTo  string
	CartToken string
}

// Minter creates Multipass tokens for one shop.
type Minter struct {
	shopDomain string
	encKey     []byte
	macKey     []byte
	clk        clock.Clock
}

// NewMinter derives the encryption and signing keys from the shared secret.
func NewMinter(shopDomain, secret string, clk clock.Clock) *Minter {
	keyMaterial := sha256.Sum256([]byte(secret))
	return &Minter{
		shopDomain: shopDomain,
		encKey:     keyMaterial[:16],
		macKey:     keyMaterial[16:32],
		clk:        clk,
	}
}

// ValidateInput checks the structural requirements: email present,
// created_at inside the freshness window, return_to absolute when set.
func (m *Minter) ValidateInput(input Input) error {
	if input.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if input.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidInput)
	}
	drift := m.clk.Now().Sub(input.CreatedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > freshnessWindow {
		return ErrStale
	}
	if input.ReturnTo != "" {
		u, err := url.Parse(input.ReturnTo)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%w: return_to must be an absolute URL", ErrInvalidInput)
		}
	}
	return nil
}

// payload builds the canonical JSON. created_at is rendered as an ISO-8601
// UTC timestamp; unset optional fields are omitted entirely.
func payload(input Input) ([]byte, error) {
	record := map[string]string{
		"email":      input.Email,
		"created_at": input.CreatedAt.UTC().Format(time.RFC3339),
	}
	if input.FirstName != "" {
		record["first_name"] = input.FirstName
	}
	if input.LastName != "" {
		record["last_name"] = input.LastName
	}
	if input.Identifier != "" {
		record["identifier"] = input.Identifier
	}
	if input.ReturnTo != "" {
		record["return_to"] = input.ReturnTo
	}
	return json.Marshal(record)
}

// Mint validates input and produces the token string.
func (m *Minter) Mint(input Input) (string, error) {
	if err := m.ValidateInput(input); err != nil {
		return "", err
	}

	plaintext, err := payload(input)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(m.encKey)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	// Shopify signs IV||CT and appends the MAC before encoding.
	signed := append(iv, ciphertext...)
	mac := hmac.New(sha256.New, m.macKey)
	mac.Write(signed)
	signed = mac.Sum(signed)

	return base64.RawURLEncoding.EncodeToString(signed), nil
}

// LoginURL mints a token and assembles the storefront login URL.
func (m *Minter) LoginURL(input Input, opts URLOptions) (string, error) {
	token, err := m.Mint(input)
	if err != nil {
		return "", err
	}

	loginURL := fmt.Sprintf("https://%s/account/login/multipass/%s", m.shopDomain, token)

	query := url.Values{}
	if opts.ReturnTo != "" {
		query.Set("return_to", opts.ReturnTo)
	}
	if opts.CartToken != "" {
		query.Set("cart", opts.CartToken)
	}
	if len(query) > 0 {
		loginURL += "?" + query.Encode()
	}
	return loginURL, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}
