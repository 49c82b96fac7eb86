package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/keyval"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

func newProvider(t *testing.T) (*Provider, *keyval.Memory, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	store := keyval.NewMemory(clk)
	t.Cleanup(func() { _ = store.Close() })
	return NewProvider(store), store, clk
}

func TestGetReturnsDefaultsWhenUnset(t *testing.T) {
	p, _, _ := newProvider(t)

	got, err := p.Get(context.Background())
	testutil.NoError(t, err)
	testutil.Equal(t, Defaults(), got)
	testutil.True(t, got.EnabledMethods.SMS)
}

func TestPutThenGet(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	want := Settings{
		EnabledMethods: EnabledMethods{SMS: true, Email: false, Google: false},
		UICustomization: UICustomization{
			PrimaryColor: "#ff6600",
			ButtonStyle:  "pill",
			LogoURL:      "https://cdn.example.com/logo.png",
		},
	}
	testutil.NoError(t, p.Put(ctx, want))

	got, err := p.Get(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, want, got)
}

func TestPutRejectsAllMethodsDisabled(t *testing.T) {
	p, _, _ := newProvider(t)

	bad := Defaults()
	bad.EnabledMethods = EnabledMethods{}
	err := p.Put(context.Background(), bad)
	testutil.True(t, errors.Is(err, ErrInvalidSettings))
}

func TestPutRejectsUnknownButtonStyle(t *testing.T) {
	p, _, _ := newProvider(t)

	bad := Defaults()
	bad.UICustomization.ButtonStyle = "triangular"
	err := p.Put(context.Background(), bad)
	testutil.True(t, errors.Is(err, ErrInvalidSettings))
}

func TestGetServesFromCache(t *testing.T) {
	p, store, _ := newProvider(t)
	ctx := context.Background()

	saved := Defaults()
	saved.UICustomization.PrimaryColor = "#123456"
	testutil.NoError(t, p.Put(ctx, saved))

	// Remove the primary record; a cached read must still succeed.
	testutil.NoError(t, store.Del(ctx, "shop:settings"))

	got, err := p.Get(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, "#123456", got.UICustomization.PrimaryColor)
}

func TestCacheExpiresAfterFiveMinutes(t *testing.T) {
	p, store, clk := newProvider(t)
	ctx := context.Background()

	testutil.NoError(t, p.Put(ctx, Defaults()))
	testutil.NoError(t, store.Del(ctx, "shop:settings"))

	clk.Advance(5*time.Minute + time.Second)

	// Cache gone, primary gone: back to defaults.
	got, err := p.Get(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, Defaults(), got)
}

func TestPutOverwritesCache(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	first := Defaults()
	testutil.NoError(t, p.Put(ctx, first))
	_, err := p.Get(ctx)
	testutil.NoError(t, err)

	second := Defaults()
	second.UICustomization.ButtonStyle = "square"
	testutil.NoError(t, p.Put(ctx, second))

	got, err := p.Get(ctx)
	testutil.NoError(t, err)
	testutil.Equal(t, "square", got.UICustomization.ButtonStyle)
}

func TestMethodEnabled(t *testing.T) {
	s := Settings{EnabledMethods: EnabledMethods{SMS: true}}
	testutil.True(t, s.MethodEnabled("sms"))
	testutil.False(t, s.MethodEnabled("email"))
	testutil.False(t, s.MethodEnabled("carrier-pigeon"))
}
