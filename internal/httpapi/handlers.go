package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"asklepios.org/internal/audit"
	"asklepios.org/internal/identity"
	"asklepios.org/internal/obs"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Pinger == nil {
		return nil
	}
	return rp.Pinger.Ping(ctx)
}

// API is the HTTP layer of the gateway.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authn    *identity.Authenticator
	tokens   *identity.TokenIssuer
	accounts *identity.Service
	store    identity.Store

	ratePerSec  float64
	rateBurst   int
	limiterOnce sync.Once
	limiter     *rateLimiter
}

// New wires the route table. The rate limit applies to the password endpoint
// only; token-authenticated traffic is not throttled here.
func New(rp ReadyProbe, version string, authn *identity.Authenticator, tokens *identity.TokenIssuer, accounts *identity.Service, store identity.Store) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		authn:      authn,
		tokens:     tokens,
		accounts:   accounts,
		store:      store,
		ratePerSec: 10,
		rateBurst:  20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/authenticate", a.handleAuthenticate)
	a.mux.HandleFunc("/api/account/status", a.handleAccountStatus)
	a.mux.HandleFunc("/api/account/reset-password/init", a.handleResetInit)
	a.mux.HandleFunc("/api/account/reset-password/finish", a.handleResetFinish)

	a.mux.HandleFunc("/api/admin/users", a.handleUsersCollection)
	a.mux.HandleFunc("/api/admin/users/", a.handleUserResource)
	a.mux.HandleFunc("/api/admin/facilities", a.handleFacilitiesCollection)
	a.mux.HandleFunc("/api/admin/facilities/", a.handleFacilityResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default throttle on the password endpoint.
// It must be called before the first request is served.
func (a *API) SetRateLimit(perSec float64, burst int) {
	if perSec > 0 {
		a.ratePerSec = perSec
	}
	if burst > 0 {
		a.rateBurst = burst
	}
}

// Handler returns the full middleware chain around the route table.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "asklepios-gateway",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "asklepios-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Event("error", "audit_log_failed", map[string]any{"event": event, "error": err.Error()})
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleIdentityError maps the shared taxonomy for non-credential endpoints.
// The authenticate endpoint does its own mapping so rejection reasons stay
// indistinguishable there.
func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, identity.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
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

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
