package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gatehouse/gatehouse/internal/settings"
	"github.com/gatehouse/gatehouse/internal/shopify"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

func TestEmailLoginCreatesCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.service.LoginEmail(ctx, "ada@example.com", "correct horse battery")
	testutil.NoError(t, err)
	testutil.True(t, strings.HasPrefix(result.MultipassURL,
		"https://shop.example.com/account/login/multipass/"))

	created := h.directory.Customer(result.CustomerID)
	testutil.Contains(t, created.Tags, "email-auth")

	hash := h.directory.Metafield(result.CustomerID, "password_hash")
	testutil.True(t, strings.HasPrefix(hash, "$argon2id$"), "stored hash %q", hash)
}

func TestEmailLoginVerifiesExisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.service.LoginEmail(ctx, "ada@example.com", "correct horse battery")
	testutil.NoError(t, err)

	// Right password logs in again.
	second, err := h.service.LoginEmail(ctx, "ada@example.com", "correct horse battery")
	testutil.NoError(t, err)
	testutil.Equal(t, first.CustomerID, second.CustomerID)

	// Wrong password is an opaque credentials failure.
	_, err = h.service.LoginEmail(ctx, "ada@example.com", "wrong password")
	testutil.True(t, errors.Is(err, ErrBadCredentials))
	testutil.Equal(t, ErrBadCredentials.Error(), err.Error())
}

func TestEmailLoginRejectsMalformedEmail(t *testing.T) {
	h := newHarness(t)

	for _, email := range []string{"", "plain", "a b@c.co", "no@tld"} {
		_, err := h.service.LoginEmail(context.Background(), email, "pw")
		testutil.True(t, errors.Is(err, ErrInvalidInput), "email %q", email)
	}
}

func TestEmailLoginRejectsEmptyPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.LoginEmail(context.Background(), "a@b.co", "")
	testutil.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEmailLoginMethodDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg := settings.Defaults()
	cfg.EnabledMethods.Email = false
	testutil.NoError(t, settings.NewProvider(h.store).Put(ctx, cfg))

	_, err := h.service.LoginEmail(ctx, "a@b.co", "pw")
	testutil.True(t, errors.Is(err, ErrMethodDisabled))
}

func TestEmailLoginBindsPasswordToPasswordlessCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Created through the SMS flow: no password hash yet.
	existing, err := h.directory.Create(ctx, shopify.CustomerInput{
		Email: "ada@example.com", Phone: testPhone, Tags: []string{"sms-auth"},
	})
	testutil.NoError(t, err)

	result, err := h.service.LoginEmail(ctx, "ada@example.com", "first password")
	testutil.NoError(t, err)
	testutil.Equal(t, existing.ID, result.CustomerID)

	// The password is now bound; others fail.
	_, err = h.service.LoginEmail(ctx, "ada@example.com", "second password")
	testutil.True(t, errors.Is(err, ErrBadCredentials))
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	testutil.NoError(t, err)

	ok, err := VerifyPassword("s3cret", hash)
	testutil.NoError(t, err)
	testutil.True(t, ok)

	ok, err = VerifyPassword("not-it", hash)
	testutil.NoError(t, err)
	testutil.False(t, ok)
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a, err := HashPassword("same")
	testutil.NoError(t, err)
	b, err := HashPassword("same")
	testutil.NoError(t, err)
	testutil.NotEqual(t, a, b)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	_, err := VerifyPassword("pw", "$bcrypt$whatever")
	testutil.Error(t, err)
	_, err = VerifyPassword("pw", "")
	testutil.Error(t, err)
}
