package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"credential-control-plane/internal/admission"
	identitysvc "credential-control-plane/internal/identity/service"
	"credential-control-plane/internal/security"
)

// Stable machine-readable error codes. Messages stay environment-agnostic;
// store details and internals never reach the client.
const (
	codeBadRequest         = "bad_request"
	codeInvalidCredentials = "invalid_credentials"
	codeAccountLocked      = "account_locked"
	codeTokenNotFound      = "token_not_found"
	codeTokenRevoked       = "token_revoked"
	codeTokenExpired       = "token_expired"
	codeInvalidToken       = "invalid_token"
	codeRateLimited        = "rate_limited"
	codeOverloaded         = "overloaded"
	codeQueueTimeout       = "queue_timeout"
	codeStoreUnavailable   = "store_unavailable"
	codeInternal           = "internal"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": errorResponse{Code: code, Message: message}})
}

func writeRetryError(w http.ResponseWriter, status int, code, message string, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, status, code, message)
}

// handleAuthError maps service sentinels to HTTP responses.
func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identitysvc.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
	case errors.Is(err, identitysvc.ErrAccountLocked):
		writeError(w, http.StatusLocked, codeAccountLocked, "account temporarily locked")
	case errors.Is(err, identitysvc.ErrTokenNotFound):
		writeError(w, http.StatusUnauthorized, codeTokenNotFound, "refresh token not found")
	case errors.Is(err, identitysvc.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, codeTokenRevoked, "refresh token revoked")
	case errors.Is(err, identitysvc.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, codeTokenExpired, "refresh token expired")
	case errors.Is(err, security.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, codeTokenExpired, "access token expired")
	case errors.Is(err, security.ErrInvalidSignature), errors.Is(err, security.ErrMalformedToken):
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid access token")
	case errors.Is(err, identitysvc.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "service temporarily unavailable")
	case errors.Is(err, admission.ErrOverloaded):
		writeError(w, http.StatusServiceUnavailable, codeOverloaded, "service overloaded")
	case errors.Is(err, admission.ErrQueueTimeout):
		writeError(w, http.StatusServiceUnavailable, codeQueueTimeout, "service busy")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
