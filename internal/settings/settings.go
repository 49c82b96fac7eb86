// Package settings stores the merchant-facing toggles: which login methods
// are enabled and how the widget looks.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gatehouse/gatehouse/internal/keyval"
)

const (
	primaryKey = "shop:settings"
	cacheKey   = "cache:settings"
	cacheTTL   = 5 * time.Minute
)

// ErrInvalidSettings is returned for writes that fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// EnabledMethods toggles the three login methods.
type EnabledMethods struct {
	SMS    bool `json:"sms"`
	Email  bool `json:"email"`
	Google bool `json:"google"`
}

// UICustomization styles the storefront widget.
type UICustomization struct {
	PrimaryColor string `json:"primaryColor"`
	ButtonStyle  string `json:"buttonStyle"`
	LogoURL      string `json:"logoUrl"`
}

// Settings is the merchant configuration record.
type Settings struct {
	EnabledMethods  EnabledMethods  `json:"enabledMethods"`
	UICustomization UICustomization `json:"uiCustomization"`
}

// Defaults returns the configuration used before the merchant saves one.
func Defaults() Settings {
	return Settings{
		EnabledMethods: EnabledMethods{SMS: true, Email: true, Google: true},
		UICustomization: UICustomization{
			PrimaryColor: "#000000",
			ButtonStyle:  "rounded",
		},
	}
}

// Validate rejects records the storefront cannot work with.
func (s Settings) Validate() error {
	if !s.EnabledMethods.SMS && !s.EnabledMethods.Email && !s.EnabledMethods.Google {
		return fmt.Errorf("%w: at least one login method must be enabled", ErrInvalidSettings)
	}
	switch s.UICustomization.ButtonStyle {
	case "rounded", "square", "pill":
	default:
		return fmt.Errorf("%w: unknown button style %q", ErrInvalidSettings, s.UICustomization.ButtonStyle)
	}
	return nil
}

// Provider reads and writes settings with a short cache in front of the
// primary key.
type Provider struct {
	store keyval.Store
}

// NewProvider creates a settings provider.
func NewProvider(store keyval.Store) *Provider {
	return &Provider{store: store}
}

// Get returns the current settings, served from cache when fresh. A missing
// record yields the defaults.
func (p *Provider) Get(ctx context.Context) (Settings, error) {
	if raw, err := p.store.Get(ctx, cacheKey); err == nil {
		var cached Settings
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached, nil
		}
	}

	raw, err := p.store.Get(ctx, primaryKey)
	if errors.Is(err, keyval.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}

	var settings Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	// Repopulate the cache; failures only cost the next reader a primary
	// read.
	_ = p.store.Set(ctx, cacheKey, raw, cacheTTL)
	return settings, nil
}

// Put validates and stores settings: primary first, then the cache is
// overwritten so readers never see a stale record after a write.
func (p *Provider) Put(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := p.store.Set(ctx, primaryKey, string(data), 0); err != nil {
		return err
	}
	return p.store.Set(ctx, cacheKey, string(data), cacheTTL)
}

// MethodEnabled reports whether the named method is on. Unknown names are
// off.
func (s Settings) MethodEnabled(method string) bool {
	switch method {
	case "sms":
		return s.EnabledMethods.SMS
	case "email":
		return s.EnabledMethods.Email
	case "google":
		return s.EnabledMethods.Google
	default:
		return false
	}
}
