// Package server exposes the HTTP surface: the storefront auth endpoints,
// the delivery-receipt webhook, the embedded-app admin API, and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/httputil"
	"github.com/gatehouse/gatehouse/internal/keyval"
	"github.com/gatehouse/gatehouse/internal/ratelimit"
	"github.com/gatehouse/gatehouse/internal/settings"
	"github.com/gatehouse/gatehouse/internal/sms"
)

// Options wires the server's collaborators.
type Options struct {
	Auth     *auth.Service
	Settings *settings.Provider
	// SMSRouter tracks delivery state for receipt callbacks.
	SMSRouter *sms.Router
	// Receipts are the providers consulted to decode callback payloads.
	Receipts []sms.Provider
	Store    keyval.Store
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger

	// APIKey and APISecret authenticate embedded-app session tokens on the
	// admin surface.
	APIKey    string
	APISecret string
	// WebhookSecret signs delivery-receipt bodies. Empty skips verification.
	WebhookSecret string
}

// Server is the HTTP layer. All domain decisions live in the services it
// wraps; handlers only decode, dispatch, and map errors to status codes.
type Server struct {
	auth      *auth.Service
	settings  *settings.Provider
	smsRouter *sms.Router
	receipts  []sms.Provider
	store     keyval.Store
	limiter   *ratelimit.Limiter
	logger    *slog.Logger

	apiKey        string
	apiSecret     string
	webhookSecret string

	httpServer *http.Server
}

// New builds the server.
func New(opts Options) *Server {
	return &Server{
		auth:          opts.Auth,
		settings:      opts.Settings,
		smsRouter:     opts.SMSRouter,
		receipts:      opts.Receipts,
		store:         opts.Store,
		limiter:       opts.Limiter,
		logger:        opts.Logger,
		apiKey:        opts.APIKey,
		apiSecret:     opts.APISecret,
		webhookSecret: opts.WebhookSecret,
	}
}

// Handler assembles the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(CORS)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			if s.limiter != nil {
				ar.Use(s.limiter.Middleware)
			}
			ar.Post("/sms/send", s.handleSMSSend)
			ar.Post("/sms/verify", s.handleSMSVerify)
			ar.Post("/email/login", s.handleEmailLogin)
			ar.Get("/oauth/{provider}", s.handleOAuthStart)
			ar.Get("/oauth/{provider}/callback", s.handleOAuthCallback)
			ar.Post("/session/restore", s.handleSessionRestore)
		})

		api.Route("/orders/otp", func(or chi.Router) {
			if s.limiter != nil {
				or.Use(s.limiter.Middleware)
			}
			or.Post("/send", s.handleOrderCodeSend)
			or.Post("/verify", s.handleOrderCodeVerify)
		})

		api.Post("/webhooks/sms-dlr", s.handleDeliveryReceipt)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.requireSessionToken)
			admin.Get("/settings", s.handleGetSettings)
			admin.Put("/settings", s.handlePutSettings)
		})
	})

	return r
}

// Start serves on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "key-value store unreachable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAuthError is the single mapping from service sentinels to HTTP
// responses. identity, when known, lets blocked and cooldown failures carry
// the live retry window.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error, identity string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		httputil.WriteError(w, http.StatusBadRequest, "invalid_input", "request is malformed")
	case errors.Is(err, auth.ErrMethodDisabled):
		httputil.WriteError(w, http.StatusForbidden, "method_disabled", "this login method is disabled")
	case errors.Is(err, auth.ErrBadCredentials):
		httputil.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, auth.ErrBlocked):
		s.writeRetryError(w, r, err, identity, "blocked", "too many failed attempts, blocked for %d seconds")
	case errors.Is(err, auth.ErrCooldownActive):
		s.writeRetryError(w, r, err, identity, "cooldown_active", "resend available in %d seconds")
	case errors.Is(err, auth.ErrSendRateExceeded):
		s.writeRetryError(w, r, err, identity, "send_rate_exceeded", "send limit reached, retry in %d seconds")
	case errors.Is(err, auth.ErrProviderError), errors.Is(err, auth.ErrDirectoryError):
		httputil.WriteError(w, http.StatusBadGateway, "upstream_error", "upstream service failure")
	default:
		s.logger.Error("unhandled auth failure",
			"error", err,
			"path", r.URL.Path,
			"request_id", w.Header().Get(httputil.RequestIDHeader))
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) writeRetryError(w http.ResponseWriter, r *http.Request, cause error, identity, code, format string) {
	seconds := s.auth.RetrySeconds(r.Context(), identity, cause)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	httputil.WriteError(w, http.StatusTooManyRequests, code, fmt.Sprintf(format, seconds))
}
