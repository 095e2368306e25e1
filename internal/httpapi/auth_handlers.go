package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"asklepios.org/internal/identity"
	"asklepios.org/internal/obs"
)

// loginVM mirrors the wire contract of the password endpoint. The camelCase
// field names are part of the published API and are kept as-is.
type loginVM struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FacilityID int64  `json:"facilityId"`
	RememberMe bool   `json:"rememberMe"`
}

type tokenResponse struct {
	IDToken   string    `json:"id_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) authLimiter() *rateLimiter {
	a.limiterOnce.Do(func() {
		a.limiter = newRateLimiter(a.ratePerSec, a.rateBurst)
	})
	return a.limiter
}

func (a *API) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.authenticate(w, r)
	case http.MethodGet:
		a.currentLogin(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

// authenticate is the password endpoint. Unknown login, wrong password and
// deactivated account all answer the same 401 so the endpoint is not an
// account oracle; only validation failures and transient store outages differ.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ip == "" {
		ip = "unknown"
	}
	if !a.authLimiter().allow(ip) {
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req loginVM
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Username) > 50 {
		writeError(w, r, http.StatusBadRequest, "username must be 1 to 50 characters")
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 100 {
		writeError(w, r, http.StatusBadRequest, "password must be 4 to 100 characters")
		return
	}
	if req.FacilityID <= 0 {
		writeError(w, r, http.StatusBadRequest, "facilityId is required")
		return
	}

	principal, err := a.authn.Authenticate(r.Context(), identity.PasswordRequest{
		Login:      req.Username,
		Password:   req.Password,
		FacilityID: req.FacilityID,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrStoreUnavailable):
			obs.ObserveAuthAttempt("unavailable")
			writeError(w, r, http.StatusServiceUnavailable, "authentication temporarily unavailable")
		case errors.Is(err, identity.ErrNotFound),
			errors.Is(err, identity.ErrBadCredentials),
			errors.Is(err, identity.ErrNotActivated):
			obs.ObserveAuthAttempt("rejected")
			a.audit(r.Context(), "authn.rejected", map[string]any{
				"username":    req.Username,
				"facility_id": req.FacilityID,
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, expiresAt, err := a.tokens.Issue(principal, req.RememberMe)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	obs.ObserveAuthAttempt("success")
	a.audit(identity.ContextWithPrincipal(r.Context(), principal), "authn.success", map[string]any{
		"remember_me": req.RememberMe,
	})

	w.Header().Set(authHeader, bearer+token)
	writeJSON(w, http.StatusOK, tokenResponse{IDToken: token, ExpiresAt: expiresAt})
}

// currentLogin echoes the authenticated login back as plain text, or an empty
// body for anonymous callers.
func (a *API) currentLogin(w http.ResponseWriter, r *http.Request) {
	login, _ := identity.LoginFromContext(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(login))
}

func (a *API) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	login, ok := identity.LoginFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	// Admins may ask about any account; everyone else only about their own.
	if asked := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("login"))); asked != "" && asked != login {
		if err := requireAuthority(r.Context(), identity.RoleAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, err.Error())
			return
		}
		login = asked
	}
	status, err := a.accounts.Status(r.Context(), login)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"login":  login,
		"status": status,
	})
}

type resetInitRequest struct {
	Email string `json:"email"`
}

type resetFinishRequest struct {
	Key         string `json:"key"`
	NewPassword string `json:"new_password"`
}

// handleResetInit accepts the email and answers identically whether or not an
// account matched.
func (a *API) handleResetInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetInitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	issued, _, err := a.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, identity.ErrInvalidInput) {
		handleIdentityError(w, r, err)
		return
	}
	if issued {
		a.audit(r.Context(), "account.reset_requested", map[string]any{"email": req.Email})
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleResetFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetFinishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.accounts.CompletePasswordReset(r.Context(), req.Key, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrInvalidInput):
			// Expired and unknown keys collapse into one message.
			writeError(w, r, http.StatusBadRequest, "invalid or expired reset key")
		default:
			handleIdentityError(w, r, err)
		}
		return
	}

	a.audit(r.Context(), "account.reset_completed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
