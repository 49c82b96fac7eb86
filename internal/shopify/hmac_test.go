package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/gatehouse/gatehouse/internal/testutil"
)

const hmacSecret = "hush"

func signQuery(secret string, params map[string]string) string {
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
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyQuery(t *testing.T) {
	params := map[string]string{
		"shop":      "example.myshopify.com",
		"timestamp": "1735732800",
		"code":      "abc123",
	}
	params["hmac"] = signQuery(hmacSecret, params)

	testutil.NoError(t, VerifyQuery(hmacSecret, params))
}

func TestVerifyQueryMissing(t *testing.T) {
	err := VerifyQuery(hmacSecret, map[string]string{"shop": "x"})
	testutil.True(t, errors.Is(err, ErrMissingSignature))
}

func TestVerifyQueryTampered(t *testing.T) {
	params := map[string]string{
		"shop":      "example.myshopify.com",
		"timestamp": "1735732800",
	}
	params["hmac"] = signQuery(hmacSecret, params)
	params["shop"] = "evil.myshopify.com"

	err := VerifyQuery(hmacSecret, params)
	testutil.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestVerifyQueryIgnoresSignatureParam(t *testing.T) {
	params := map[string]string{
		"shop":      "example.myshopify.com",
		"signature": "legacy-value",
	}
	params["hmac"] = signQuery(hmacSecret, params)

	testutil.NoError(t, VerifyQuery(hmacSecret, params))
}

func TestVerifyBody(t *testing.T) {
	body := []byte(`{"message_id":"msg-1","status":"DELIVERED"}`)
	mac := hmac.New(sha256.New, []byte(hmacSecret))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	testutil.NoError(t, VerifyBody(hmacSecret, body, sig))

	err := VerifyBody(hmacSecret, body, "")
	testutil.True(t, errors.Is(err, ErrMissingSignature))

	err = VerifyBody(hmacSecret, append(body, ' '), sig)
	testutil.True(t, errors.Is(err, ErrInvalidSignature))
}

// The verification result must depend only on whether the signature matches,
// not on where a mismatch occurs.
func TestVerifyBodyMismatchPositionIrrelevant(t *testing.T) {
	body := []byte("payload-under-test")
	mac := hmac.New(sha256.New, []byte(hmacSecret))
	mac.Write(body)
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for i := 0; i < len(good); i++ {
		bad := []byte(good)
		bad[i] ^= 0x01
		err := VerifyBody(hmacSecret, body, string(bad))
		testutil.True(t, errors.Is(err, ErrInvalidSignature), "flip at %d", i)
	}
}

func TestVerifyQueryLargeSyntheticSamples(t *testing.T) {
	for i := 0; i < 50; i++ {
		params := map[string]string{
			"shop":      fmt.Sprintf("shop-%d.myshopify.com", i),
			"timestamp": fmt.Sprintf("%d", 1735732800+i),
			"state":     fmt.Sprintf("state-%d", i),
		}
		params["hmac"] = signQuery(hmacSecret, params)
		testutil.NoError(t, VerifyQuery(hmacSecret, params))

		params["state"] = "tampered"
		err := VerifyQuery(hmacSecret, params)
		testutil.True(t, errors.Is(err, ErrInvalidSignature))
	}
}
