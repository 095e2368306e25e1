package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AuthoritiesClaim carries the space-joined authority names.
	AuthoritiesClaim = "auth"
	// TenantClaim carries the facility id as a string-encoded integer. Authority
	// claims are only meaningful next to it; a verifier must never evaluate one
	// without the other.
	TenantClaim = "tenant"

	defaultValidity           = 24 * time.Hour
	defaultRememberMeValidity = 30 * 24 * time.Hour
)

// Claims is the bearer-token payload: registered claims plus the authorities
// and tenant claims consumed by downstream authorization.
type Claims struct {
	Authorities string `json:"auth"`
	Tenant      string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS512-signed bearer tokens. The signing secret
// is process-wide and read-only after construction; rotating it invalidates
// every outstanding token.
type TokenIssuer struct {
	secret             []byte
	issuer             string
	validity           time.Duration
	rememberMeValidity time.Duration
	now                func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) {
		t.issuer = strings.TrimSpace(issuer)
	}
}

// WithValidity sets the short-lived token window.
func WithValidity(d time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if d > 0 {
			t.validity = d
		}
	}
}

// WithRememberMeValidity sets the extended window used when remember-me is set.
func WithRememberMeValidity(d time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if d > 0 {
			t.rememberMeValidity = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer around an HS512 secret.
func NewTokenIssuer(secret []byte, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: signing secret is required")
	}
	t := &TokenIssuer{
		secret:             secret,
		validity:           defaultValidity,
		rememberMeValidity: defaultRememberMeValidity,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.rememberMeValidity <= t.validity {
		return nil, errors.New("identity: remember-me validity must exceed the standard validity")
	}
	return t, nil
}

// Issue encodes the principal into a signed token. rememberMe picks the longer
// of the two configured validity windows.
func (t *TokenIssuer) Issue(p Principal, rememberMe bool) (string, time.Time, error) {
	if strings.TrimSpace(p.Login) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	if p.FacilityID <= 0 {
		return "", time.Time{}, ErrInvalidInput
	}

	now := t.now().UTC()
	validity := t.validity
	if rememberMe {
		validity = t.rememberMeValidity
	}
	expiresAt := now.Add(validity)

	claims := Claims{
		Authorities: strings.Join(p.Authorities, " "),
		Tenant:      strconv.FormatInt(p.FacilityID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   p.Login,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and registered claims and rebuilds the principal.
// Signature verification always comes first; no claim is read from an
// unverified token. A verified token whose tenant claim is absent or not an
// integer fails with ErrMissingTenantClaim.
func (t *TokenIssuer) Verify(token string) (Principal, *Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS512 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Principal{}, nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, nil, ErrInvalidToken
	}
	if err := t.validateRegistered(claims); err != nil {
		return Principal{}, nil, ErrInvalidToken
	}

	facilityID, err := facilityFromClaims(claims)
	if err != nil {
		return Principal{}, claims, err
	}

	return Principal{
		Login:       claims.Subject,
		FacilityID:  facilityID,
		Authorities: splitAuthorities(claims.Authorities),
	}, claims, nil
}

func (t *TokenIssuer) validateRegistered(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	now := t.now().UTC()
	// Small skew allowance when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// facilityFromClaims extracts the tenant claim. Tokens without a parseable
// facility id grant no tenant-scoped access, whatever authorities they list.
func facilityFromClaims(claims *Claims) (int64, error) {
	raw := strings.TrimSpace(claims.Tenant)
	if raw == "" {
		return 0, ErrMissingTenantClaim
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMissingTenantClaim
	}
	return id, nil
}

func splitAuthorities(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
