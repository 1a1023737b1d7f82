package http

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/waveshift/internal/adapter/http/ratelimit"
	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
)

type AuthService interface {
	ValidateToken(token string) (ownerID string, err error)
}

type ownerKey struct{}

func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the authenticated owner stored by AuthMiddleware.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// clientID identifies the caller for throttling. Behind a proxy the first
// X-Forwarded-For hop is the client.
func clientID(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeThrottled(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
		Kind:    domain.KindUnauthorized,
		Message: "too many failed authentication attempts",
	}})
}

// AuthMiddleware requires a valid bearer token and stores its owner in the
// request context. Clients that keep failing are throttled when limiter is set.
func AuthMiddleware(authSvc AuthService, limiter *ratelimit.FailureLimiter, behindProxy bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r, behindProxy)
		if limiter != nil {
			if blocked, retryAfter := limiter.Blocked(client); blocked {
				writeThrottled(w, retryAfter)
				return
			}
		}

		owner, err := authSvc.ValidateToken(bearerToken(r))
		if err != nil {
			logger.Warn.Printf("rejected token from %s: %v", logger.SanitizeForLog(client), err)
			if limiter != nil {
				if blocked, retryAfter := limiter.RecordFailure(client); blocked {
					writeThrottled(w, retryAfter)
					return
				}
			}
			writeError(w, r, domain.Unauthorizedf("missing or invalid bearer token"))
			return
		}

		if limiter != nil {
			limiter.Reset(client)
		}
		next(w, r.WithContext(withOwner(r.Context(), owner)))
	}
}
