package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/httputil"
	"github.com/gatehouse/gatehouse/internal/otp"
	"github.com/gatehouse/gatehouse/internal/settings"
	"github.com/gatehouse/gatehouse/internal/shopify"
	"github.com/gatehouse/gatehouse/internal/sms"
)

type smsSendRequest struct {
	Phone string `json:"phone"`
}

type smsSendResponse struct {
	Success         bool `json:"success"`
	CooldownSeconds int  `json:"cooldownSeconds"`
}

func (s *Server) handleSMSSend(w http.ResponseWriter, r *http.Request) {
	var req smsSendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	cooldown, err := s.auth.RequestCode(r.Context(), req.Phone)
	if err != nil {
		s.writeAuthError(w, r, err, req.Phone)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, smsSendResponse{Success: true, CooldownSeconds: cooldown})
}

type smsVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type loginResponse struct {
	Success      bool   `json:"success"`
	MultipassURL string `json:"multipassUrl"`
	CustomerID   int64  `json:"customerId,omitempty"`
}

func (s *Server) handleSMSVerify(w http.ResponseWriter, r *http.Request) {
	var req smsVerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.auth.VerifyCode(r.Context(), req.Phone, req.Code)
	if err != nil {
		s.writeAuthError(w, r, err, req.Phone)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		MultipassURL: result.MultipassURL,
		CustomerID:   result.CustomerID,
	})
}

type emailLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleEmailLogin(w http.ResponseWriter, r *http.Request) {
	var req emailLoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.auth.LoginEmail(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		MultipassURL: result.MultipassURL,
		CustomerID:   result.CustomerID,
	})
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	authURL, err := s.auth.BeginOAuth(r.Context(), provider)
	if err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	if err := s.auth.ConsumeOAuthState(r.Context(), provider, query.Get("state")); err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	result, err := s.auth.LoginOAuth(r.Context(), provider, query.Get("code"))
	if err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	http.Redirect(w, r, result.MultipassURL, http.StatusFound)
}

type sessionRestoreRequest struct {
	Email           string               `json:"email"`
	SessionSnapshot auth.SessionSnapshot `json:"sessionSnapshot"`
}

func (s *Server) handleSessionRestore(w http.ResponseWriter, r *http.Request) {
	var req sessionRestoreRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.auth.RestoreSession(r.Context(), req.Email, req.SessionSnapshot)
	if err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		MultipassURL: result.MultipassURL,
		CustomerID:   result.CustomerID,
	})
}

type orderSendRequest struct {
	OrderID  string `json:"orderId"`
	Phone    string `json:"phone"`
	Template string `json:"template"`
	Order    struct {
		ID     string `json:"id"`
		Number string `json:"number"`
		Total  string `json:"total"`
	} `json:"order"`
	Customer struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"customer"`
}

func (s *Server) handleOrderCodeSend(w http.ResponseWriter, r *http.Request) {
	var req orderSendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	err := s.auth.SendOrderCode(r.Context(), req.OrderID, req.Phone, req.Template,
		otp.OrderInfo{ID: req.Order.ID, Number: req.Order.Number, Total: req.Order.Total},
		otp.CustomerInfo{FirstName: req.Customer.FirstName, LastName: req.Customer.LastName, Email: req.Customer.Email})
	if err != nil {
		s.writeAuthError(w, r, err, req.Phone)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK)
}

type orderVerifyRequest struct {
	OrderID string `json:"orderId"`
	Code    string `json:"code"`
}

type orderVerifyResponse struct {
	Success bool `json:"success"`
	Valid   bool `json:"valid"`
}

func (s *Server) handleOrderCodeVerify(w http.ResponseWriter, r *http.Request) {
	var req orderVerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	valid, err := s.auth.VerifyOrderCode(r.Context(), req.OrderID, req.Code)
	if err != nil {
		s.writeAuthError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderVerifyResponse{Success: true, Valid: valid})
}

// handleDeliveryReceipt ingests provider delivery callbacks. Signed bodies
// are verified and applied; unsigned ones are acknowledged and logged but
// never move a delivery record, since anyone who knows a message ID could
// forge them.
func (s *Server) handleDeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodySize))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_input", "unreadable body")
		return
	}

	verified := s.webhookSecret == ""
	if s.webhookSecret != "" {
		signature := r.Header.Get(shopify.BodyHMACHeader)
		if signature != "" {
			if err := shopify.VerifyBody(s.webhookSecret, body, signature); err != nil {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
				return
			}
			verified = true
		}
	}

	var receipt *sms.Receipt
	for _, provider := range s.receipts {
		parsed, err := provider.ParseReceipt(body)
		if err != nil || parsed.MessageID == "" {
			continue
		}
		receipt = parsed
		break
	}
	if receipt == nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_input", "unrecognized receipt payload")
		return
	}

	if !verified {
		s.logger.Warn("unsigned delivery receipt ignored",
			"remote", r.RemoteAddr, "message_id", receipt.MessageID, "status", receipt.Status)
		httputil.WriteSuccess(w, http.StatusOK)
		return
	}

	if err := s.smsRouter.UpdateDelivery(r.Context(), receipt.MessageID, receipt.Status, receipt.FailureReason); err != nil {
		s.logger.Error("apply delivery update", "message_id", receipt.MessageID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	s.logger.Info("delivery receipt applied", "message_id", receipt.MessageID, "status", receipt.Status)
	httputil.WriteSuccess(w, http.StatusOK)
}

// requireSessionToken guards the admin surface with Shopify embedded-app
// session tokens.
func (s *Server) requireSessionToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
			return
		}
		if _, err := shopify.VerifySessionToken(s.apiSecret, s.apiKey, token); err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid session token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type settingsResponse struct {
	Success  bool              `json:"success"`
	Settings settings.Settings `json:"settings"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Get(r.Context())
	if err != nil {
		s.logger.Error("read settings", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settingsResponse{Success: true, Settings: cfg})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Settings
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	if err := s.settings.Put(r.Context(), cfg); err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_settings", err.Error())
			return
		}
		s.logger.Error("write settings", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settingsResponse{Success: true, Settings: cfg})
}
