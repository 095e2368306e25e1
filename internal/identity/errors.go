package identity

import "errors"

var (
	// ErrNotFound means no identity matched the (login, facility) pair.
	ErrNotFound = errors.New("identity: not found")
	// ErrNotActivated means the identity exists but its activation flag is off.
	ErrNotActivated = errors.New("identity: not activated")
	// ErrBadCredentials means the presented secret did not match the stored hash.
	ErrBadCredentials = errors.New("identity: bad credentials")
	// ErrInvalidToken indicates a bearer token that failed signature or claim validation.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrMissingTenantClaim indicates a verified token without a usable facility claim.
	ErrMissingTenantClaim = errors.New("identity: missing tenant claim")
	// ErrStoreUnavailable classifies transient credential-store failures; callers
	// surface it as retryable, never as a credential error.
	ErrStoreUnavailable = errors.New("identity: store unavailable")

	ErrInvalidInput = errors.New("identity: invalid input")
	ErrConflict     = errors.New("identity: resource conflict")
)
