// Package shopify holds the platform-facing pieces: webhook and OAuth HMAC
// verification, embedded-app session tokens, and the customer directory
// client.
package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrMissingSignature means no signature was supplied at all.
	ErrMissingSignature = errors.New("missing hmac signature")
	// ErrInvalidSignature means the signature did not match.
	ErrInvalidSignature = errors.New("invalid hmac signature")
)

// BodyHMACHeader is the header Shopify-style webhooks sign bodies under.
const BodyHMACHeader = "X-Shopify-Hmac-Sha256"

// VerifyQuery checks the hmac parameter of a query-string map the way
// Shopify signs OAuth and app-proxy requests: every parameter except hmac
// and signature, sorted by key, joined as k=v with &, HMAC-SHA256 in
// lowercase hex.
func VerifyQuery(secret string, params map[string]string) error {
	provided, ok := params["hmac"]
	if !ok || provided == "" {
		return ErrMissingSignature
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	message := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyBody checks a webhook body signature: HMAC-SHA256 over the raw
// body, base64, carried in the X-Shopify-Hmac-Sha256 header.
func VerifyBody(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
