package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/internal/keyval"
	"github.com/gatehouse/gatehouse/internal/shopify"
)

const (
	oauthStatePrefix = "oauth:state:"
	oauthStateTTL    = 10 * time.Minute
)

// OAuthProvider is one third-party login provider. The set is closed; only
// Google is configured today.
type OAuthProvider struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string

	client *http.Client
}

// NewGoogleProvider configures the Google OAuth endpoints.
func NewGoogleProvider(clientID, clientSecret, redirectURI string) *OAuthProvider {
	return &OAuthProvider{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *OAuthProvider) httpClient() *http.Client {
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Second}
	}
	return p.client
}

// AuthorizationURL builds the redirect target carrying the CSRF state.
func (p *OAuthProvider) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", p.RedirectURI)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(p.Scopes, " "))
	query.Set("state", state)
	return p.AuthURL + "?" + query.Encode()
}

// Profile is the subset of the provider's userinfo the flows use.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// ExchangeCode trades an authorization code for the user's profile.
func (p *OAuthProvider) ExchangeCode(ctx context.Context, code string) (*Profile, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("redirect_uri", p.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || token.AccessToken == "" {
		detail := token.Error
		if detail == "" {
			detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("token exchange rejected: %s", detail)
	}

	return p.fetchProfile(ctx, token.AccessToken)
}

func (p *OAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch userinfo: HTTP %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if profile.Email == "" {
		return nil, fmt.Errorf("userinfo carries no email")
	}
	return &profile, nil
}

// Provider returns the configured OAuth provider by name, or nil.
func (s *Service) Provider(name string) *OAuthProvider {
	if s.google != nil && name == s.google.Name {
		return s.google
	}
	return nil
}

// BeginOAuth generates a one-time CSRF state and returns the authorization
// URL to redirect the caller to.
func (s *Service) BeginOAuth(ctx context.Context, providerName string) (string, error) {
	if err := s.methodEnabled(ctx, providerName); err != nil {
		return "", err
	}
	provider := s.Provider(providerName)
	if provider == nil {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, providerName)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := s.store.Set(ctx, oauthStatePrefix+state, providerName, oauthStateTTL); err != nil {
		return "", err
	}
	return provider.AuthorizationURL(state), nil
}

// ConsumeOAuthState validates and burns a CSRF state. Each state admits
// exactly one callback.
func (s *Service) ConsumeOAuthState(ctx context.Context, providerName, state string) error {
	if state == "" {
		return fmt.Errorf("%w: missing state", ErrBadCredentials)
	}
	stored, err := s.store.Get(ctx, oauthStatePrefix+state)
	if errors.Is(err, keyval.ErrNotFound) {
		return fmt.Errorf("%w: unknown or expired state", ErrBadCredentials)
	}
	if err != nil {
		return err
	}
	if err := s.store.Del(ctx, oauthStatePrefix+state); err != nil {
		return err
	}
	if stored != providerName {
		return fmt.Errorf("%w: state issued for a different provider", ErrBadCredentials)
	}
	return nil
}

// LoginOAuth exchanges the callback code, finds or creates the customer,
// and mints the login URL. State validation happens at the HTTP boundary
// before this is called.
func (s *Service) LoginOAuth(ctx context.Context, providerName, code string) (*Result, error) {
	if err := s.methodEnabled(ctx, providerName); err != nil {
		return nil, err
	}
	provider := s.Provider(providerName)
	if provider == nil {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, providerName)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidInput)
	}

	profile, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	customer, err := s.directory.FindByEmail(ctx, profile.Email)
	if errors.Is(err, shopify.ErrCustomerNotFound) {
		customer, err = s.directory.Create(ctx, shopify.CustomerInput{
			Email:     profile.Email,
			FirstName: profile.GivenName,
			LastName:  profile.FamilyName,
			Tags:      []string{provider.Name + "-auth"},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryError, err)
	}

	s.recordLogin(ctx, customer.ID, provider.Name, false)
	return s.mint(customer, profile.Email, "", "")
}

// generateState draws a 32-hex-character CSRF token.
func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
