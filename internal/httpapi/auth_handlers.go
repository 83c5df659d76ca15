package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"credential-control-plane/internal/obs"
	"credential-control-plane/internal/security"
	"credential-control-plane/internal/telemetry"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (a *API) emitEvent(r *http.Request, event, subject, device, outcome string) {
	telemetry.EmitAsync(a.emitter, r.Context(), &telemetry.AuthEvent{
		SubjectID: subject,
		Event:     event,
		Device:    device,
		Outcome:   outcome,
		At:        time.Now().UTC(),
	})
}

// subjectOf extracts the subject from a freshly issued access token for event
// attribution. Best-effort; an empty subject just means an unattributed event.
func (a *API) subjectOf(accessToken string) string {
	claims, err := a.tokens.ValidateAccess(accessToken)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	pair, err := a.auth.Login(r.Context(), req.Email, req.Password, req.DeviceInfo)
	if err != nil {
		obs.AuthOperation("login", "failure")
		a.emitEvent(r, "login", "", req.DeviceInfo, "denied")
		handleAuthError(w, err)
		return
	}
	obs.AuthOperation("login", "success")
	a.emitEvent(r, "login", a.subjectOf(pair.AccessToken), req.DeviceInfo, "success")
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(time.Until(pair.ExpiresAt).Seconds()),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		obs.AuthOperation("refresh", "failure")
		a.emitEvent(r, "refresh", "", "", "denied")
		handleAuthError(w, err)
		return
	}
	obs.AuthOperation("refresh", "success")
	a.emitEvent(r, "refresh", a.subjectOf(pair.AccessToken), "", "success")
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(time.Until(pair.ExpiresAt).Seconds()),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	access := bearerToken(r)
	if access == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "bearer token required")
		return
	}
	// Body is optional; without a refresh token only the access jti is killed.
	var req logoutRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
	}
	if err := a.auth.Logout(r.Context(), access, req.RefreshToken); err != nil {
		obs.AuthOperation("logout", "failure")
		handleAuthError(w, err)
		return
	}
	obs.AuthOperation("logout", "success")
	a.emitEvent(r, "logout", a.subjectOf(access), "", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeAll(w http.ResponseWriter, r *http.Request, claims *security.AccessClaims) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := a.auth.RevokeAll(r.Context(), claims.Subject); err != nil {
		obs.AuthOperation("revoke_all", "failure")
		handleAuthError(w, err)
		return
	}
	obs.AuthOperation("revoke_all", "success")
	a.emitEvent(r, "revoke_all", claims.Subject, "", "success")
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

type historyEntry struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	DeviceInfo string    `json:"device_info,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// handleHistory lists the caller's own audit trail, newest first.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, claims *security.AccessClaims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := a.history.ListBySubject(r.Context(), claims.Subject, int32(limit), int32(offset))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "audit trail unavailable")
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:         e.ID,
			Event:      e.Event,
			DeviceInfo: e.DeviceInfo,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
