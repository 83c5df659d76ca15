package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"credential-control-plane/internal/admission"
	"credential-control-plane/internal/obs"
	"credential-control-plane/internal/security"
)

// ClassCredential is the rate-limit class for credential-sensitive endpoints
// (login, refresh); callers configure its budget separately from the default.
const ClassCredential = "credential"

// requestTimeout bounds every gated request, so no store call can outlive it.
const requestTimeout = 10 * time.Second

// admitted gates the handler behind the admission controller. Rejections are
// "retry later" responses carrying a suggested delay.
func (a *API) admitted(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		r = r.WithContext(ctx)

		permit, err := a.admit.Acquire(r.Context())
		obs.SetAdmissionInFlight(a.admit.InFlight())
		if err != nil {
			switch {
			case errors.Is(err, admission.ErrOverloaded):
				obs.AdmissionRejected("overloaded")
				writeRetryError(w, http.StatusServiceUnavailable, codeOverloaded, "service overloaded", a.admit.RetryAfter())
			case errors.Is(err, admission.ErrQueueTimeout):
				obs.AdmissionRejected("queue_timeout")
				writeRetryError(w, http.StatusServiceUnavailable, codeQueueTimeout, "service busy", a.admit.RetryAfter())
			default:
				writeError(w, http.StatusServiceUnavailable, codeQueueTimeout, "request cancelled")
			}
			return
		}
		defer func() {
			permit.Release()
			obs.SetAdmissionInFlight(a.admit.InFlight())
		}()
		next(w, r)
	}
}

// rateLimited gates credential-sensitive endpoints behind the fixed-window
// limiter. A limiter outage fails closed.
func (a *API) rateLimited(class string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := a.limiter.Allow(r.Context(), clientID(r), class)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "service temporarily unavailable")
			return
		}
		if !d.Allowed {
			writeRetryError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests", d.RetryAfter)
			return
		}
		next(w, r)
	}
}

// authenticated validates the bearer access token, rejects blacklisted jtis,
// and passes the claims to the handler.
func (a *API) authenticated(next func(http.ResponseWriter, *http.Request, *security.AccessClaims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeInvalidToken, "bearer token required")
			return
		}
		claims, err := a.tokens.ValidateAccess(token)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		blacklisted, err := a.registry.IsBlacklisted(r.Context(), claims.ID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "service temporarily unavailable")
			return
		}
		if blacklisted {
			writeError(w, http.StatusUnauthorized, codeTokenRevoked, "access token revoked")
			return
		}
		next(w, r, claims)
	}
}
