// Package ratelimit provides fixed-window per-IP request limiting backed by
// the keyed store. The limiter is supplementary: store failures admit the
// request.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse/gatehouse/internal/httputil"
	"github.com/gatehouse/gatehouse/internal/keyval"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per (client IP, path) in fixed windows.
type Limiter struct {
	store  keyval.Store
	window time.Duration
	max    int
	logger *slog.Logger
}

// NewLimiter creates a limiter allowing max requests per window.
func NewLimiter(store keyval.Store, window time.Duration, max int, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, window: window, max: max, logger: logger}
}

// Check admits or denies one request. Store errors log and admit.
func (l *Limiter) Check(ctx context.Context, ip, path string) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", ip, path)

	count, err := l.store.IncrWindow(ctx, key, l.window)
	if err != nil {
		l.logger.Warn("rate limiter store error, admitting", "error", err)
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max}
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if int(count) > l.max {
		retryAfter, err := l.store.PTTL(ctx, key)
		if err != nil || retryAfter <= 0 {
			retryAfter = l.window
		}
		return Decision{Allowed: false, Limit: l.max, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true, Limit: l.max, Remaining: remaining}
}

// Middleware enforces the limiter on every request it wraps, emitting the
// X-RateLimit-* headers and a 429 with Retry-After on denial.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := l.Check(r.Context(), ClientIP(r), r.URL.Path)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httputil.WriteError(w, http.StatusTooManyRequests, "rate_limited",
				fmt.Sprintf("too many requests, retry in %d seconds", seconds))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the caller's address, honoring X-Forwarded-For only when
// the direct peer is a private or loopback address (a trusted proxy).
func ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	peerIP := net.ParseIP(peer)
	if peerIP == nil || !(peerIP.IsPrivate() || peerIP.IsLoopback()) {
		return peer
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return peer
	}
	// The first entry is the original client.
	first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	if net.ParseIP(first) == nil {
		return peer
	}
	return first
}
