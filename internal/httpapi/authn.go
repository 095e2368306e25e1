package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"asklepios.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/api/account/reset-password/init",
	"/api/account/reset-password/finish",
	"/",
}

// withAuth verifies the bearer token on every protected route and attaches the
// resulting principal. The password endpoint itself is public: POST carries
// credentials in the body, and an anonymous GET answers with an empty login.
// A GET that does present a token still gets it verified.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) ||
			(r.URL.Path == "/api/authenticate" && (r.Method == http.MethodPost || r.Header.Get(authHeader) == "")) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, _, err := a.tokens.Verify(token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrMissingTenantClaim):
				writeError(w, r, http.StatusUnauthorized, "missing tenant claim")
			case errors.Is(err, identity.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		ctx = identity.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuthority gates administrative routes.
func requireAuthority(ctx context.Context, name string) error {
	principal, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		return errors.New("authentication required")
	}
	if !principal.HasAuthority(name) {
		return errors.New("insufficient authority")
	}
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
