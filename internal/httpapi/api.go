// Package httpapi is the thin HTTP surface over the session lifecycle
// service. Handlers decode, delegate, and map sentinel errors to stable
// machine-readable codes; no business logic lives here.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"credential-control-plane/internal/admission"
	auditrepo "credential-control-plane/internal/audit/repository"
	identitysvc "credential-control-plane/internal/identity/service"
	"credential-control-plane/internal/obs"
	"credential-control-plane/internal/ratelimit"
	"credential-control-plane/internal/revocation"
	"credential-control-plane/internal/security"
	"credential-control-plane/internal/telemetry"
)

// ReadyProbe checks readiness against the relational store.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// AuthService is the lifecycle surface the handlers delegate to.
type AuthService interface {
	Login(ctx context.Context, email, password, deviceInfo string) (*identitysvc.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*identitysvc.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeAll(ctx context.Context, subjectID string) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       AuthService
	tokens     *security.TokenProvider
	registry   *revocation.Registry
	limiter    *ratelimit.Limiter
	admit      *admission.Controller
	readyProbe ReadyProbe
	emitter    telemetry.EventEmitter
	history    auditrepo.Repository
	version    string
}

func New(
	auth AuthService,
	tokens *security.TokenProvider,
	registry *revocation.Registry,
	limiter *ratelimit.Limiter,
	admit *admission.Controller,
	rp ReadyProbe,
	emitter telemetry.EventEmitter,
	history auditrepo.Repository,
	version string,
) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       auth,
		tokens:     tokens,
		registry:   registry,
		limiter:    limiter,
		admit:      admit,
		readyProbe: rp,
		emitter:    emitter,
		history:    history,
		version:    version,
	}

	a.mux.HandleFunc("/auth/login", a.admitted(a.rateLimited(ClassCredential, a.handleLogin)))
	a.mux.HandleFunc("/auth/refresh", a.admitted(a.rateLimited(ClassCredential, a.handleRefresh)))
	a.mux.HandleFunc("/auth/logout", a.admitted(a.handleLogout))
	a.mux.HandleFunc("/auth/sessions", a.admitted(a.authenticated(a.handleRevokeAll)))
	if history != nil {
		a.mux.HandleFunc("/auth/history", a.admitted(a.authenticated(a.handleHistory)))
	}
	a.mux.HandleFunc("/.well-known/jwks.json", a.handleJWKS)

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := a.tokens.JWKS()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "key set unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(doc)
}

// clientID identifies the caller for rate limiting: the remote IP.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
}
