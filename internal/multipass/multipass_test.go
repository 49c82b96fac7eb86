package multipass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var mintTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestMinter() *Minter {
	return NewMinter("shop.example.com", testSecret, clock.NewFake(mintTime))
}

// decodeToken is the inverse of Mint: verify the MAC, strip it, decrypt,
// unpad. It mirrors what the platform's verifier does.
func decodeToken(t *testing.T, secret, token string) map[string]string {
	t.Helper()

	raw, err := base64.RawURLEncoding.DecodeString(token)
	testutil.NoError(t, err)
	testutil.True(t, len(raw) > aes.BlockSize+sha256.Size, "token too short")

	keyMaterial := sha256.Sum256([]byte(secret))
	encKey, macKey := keyMaterial[:16], keyMaterial[16:32]

	signed, sig := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	mac := hmac.New(sha256.New, macKey)
	mac.Write(signed)
	testutil.True(t, hmac.Equal(sig, mac.Sum(nil)), "signature mismatch")

	iv, ciphertext := signed[:aes.BlockSize], signed[aes.BlockSize:]
	block, err := aes.NewCipher(encKey)
	testutil.NoError(t, err)
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	testutil.True(t, padding >= 1 && padding <= aes.BlockSize, "bad padding")
	plaintext = plaintext[:len(plaintext)-padding]

	var fields map[string]string
	testutil.NoError(t, json.Unmarshal(plaintext, &fields))
	return fields
}

func TestMintRoundTrip(t *testing.T) {
	m := newTestMinter()

	token, err := m.Mint(Input{
		Email:      "ada@example.com",
		CreatedAt:  mintTime,
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Identifier: "C1",
		ReturnTo:   "https://shop.example.com/cart",
	})
	testutil.NoError(t, err)

	fields := decodeToken(t, testSecret, token)
	testutil.Equal(t, "ada@example.com", fields["email"])
	testutil.Equal(t, "2025-01-01T12:00:00Z", fields["created_at"])
	testutil.Equal(t, "Ada", fields["first_name"])
	testutil.Equal(t, "Lovelace", fields["last_name"])
	testutil.Equal(t, "C1", fields["identifier"])
	testutil.Equal(t, "https://shop.example.com/cart", fields["return_to"])
}

func TestMintOmitsUnsetOptionalFields(t *testing.T) {
	m := newTestMinter()

	token, err := m.Mint(Input{Email: "ada@example.com", CreatedAt: mintTime})
	testutil.NoError(t, err)

	fields := decodeToken(t, testSecret, token)
	testutil.Equal(t, 2, len(fields))
	_, hasFirst := fields["first_name"]
	testutil.False(t, hasFirst)
}

func TestMintTokenIsURLSafe(t *testing.T) {
	m := newTestMinter()
	for i := 0; i < 10; i++ {
		token, err := m.Mint(Input{Email: fmt.Sprintf("u%d@example.com", i), CreatedAt: mintTime})
		testutil.NoError(t, err)
		testutil.False(t, strings.ContainsAny(token, "+/="), "token %q not base64url without padding", token)
	}
}

func TestMintRejectsWrongSecretOnDecode(t *testing.T) {
	m := newTestMinter()
	token, err := m.Mint(Input{Email: "ada@example.com", CreatedAt: mintTime})
	testutil.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	testutil.NoError(t, err)

	other := sha256.Sum256([]byte("another-secret"))
	signed, sig := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	mac := hmac.New(sha256.New, other[16:32])
	mac.Write(signed)
	testutil.False(t, hmac.Equal(sig, mac.Sum(nil)), "MAC should not verify under a different secret")
}

func TestValidateInput(t *testing.T) {
	m := newTestMinter()

	err := m.ValidateInput(Input{CreatedAt: mintTime})
	testutil.True(t, errors.Is(err, ErrInvalidInput), "missing email")

	err = m.ValidateInput(Input{Email: "a@b.co"})
	testutil.True(t, errors.Is(err, ErrInvalidInput), "missing created_at")

	err = m.ValidateInput(Input{Email: "a@b.co", CreatedAt: mintTime, ReturnTo: "/relative"})
	testutil.True(t, errors.Is(err, ErrInvalidInput), "relative return_to")

	err = m.ValidateInput(Input{Email: "a@b.co", CreatedAt: mintTime})
	testutil.NoError(t, err)
}

func TestMintFreshnessWindow(t *testing.T) {
	m := newTestMinter()

	_, err := m.Mint(Input{Email: "a@b.co", CreatedAt: mintTime.Add(-6 * time.Minute)})
	testutil.True(t, errors.Is(err, ErrStale))

	_, err = m.Mint(Input{Email: "a@b.co", CreatedAt: mintTime.Add(6 * time.Minute)})
	testutil.True(t, errors.Is(err, ErrStale))

	_, err = m.Mint(Input{Email: "a@b.co", CreatedAt: mintTime.Add(-4 * time.Minute)})
	testutil.NoError(t, err)
}

func TestLoginURL(t *testing.T) {
	m := newTestMinter()

	u, err := m.LoginURL(Input{Email: "a@b.co", CreatedAt: mintTime}, URLOptions{})
	testutil.NoError(t, err)
	testutil.True(t, strings.HasPrefix(u, "https://shop.example.com/account/login/multipass/"), "got %q", u)
	testutil.False(t, strings.Contains(u, "?"))

	u, err = m.LoginURL(Input{Email: "a@b.co", CreatedAt: mintTime}, URLOptions{
		ReturnTo:  "https://shop.example.com/checkout",
		CartToken: "cart123",
	})
	testutil.NoError(t, err)
	testutil.Contains(t, u, "return_to=https%3A%2F%2Fshop.example.com%2Fcheckout")
	testutil.Contains(t, u, "cart=cart123")
}
