package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const defaultResetKeyValidity = 24 * time.Hour

// loginPattern constrains the username form of a login. Email-shaped logins are
// validated separately by the resolver's classifier.
var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,50}$`)

// Service covers account lifecycle around the authentication core: password
// reset, administrative account creation, activation toggling and the
// facility-agnostic administrative reads.
type Service struct {
	store            Store
	gate             *HashGate
	policy           PasswordPolicy
	bcryptCost       int
	resetKeyValidity time.Duration
	now              func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithPasswordPolicy overrides the default complexity bounds.
func WithPasswordPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) {
		if p.MinLength > 0 && p.MaxLength >= p.MinLength {
			s.policy = p
		}
	}
}

// WithBcryptCost overrides the hash work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithResetKeyValidity overrides the reset-key window.
func WithResetKeyValidity(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resetKeyValidity = d
		}
	}
}

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the account service. The hash gate is shared with the
// Authenticator so password derivation is bounded the same way comparisons are.
func NewService(store Store, gate *HashGate, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if gate == nil {
		gate = NewHashGate(0)
	}
	s := &Service{
		store:            store,
		gate:             gate,
		policy:           DefaultPasswordPolicy(),
		bcryptCost:       DefaultBcryptCost,
		resetKeyValidity: defaultResetKeyValidity,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestPasswordReset stamps a fresh reset key on the activated account with
// the given email. The boolean says whether a key was actually issued; callers
// respond identically either way so the endpoint is not an account oracle.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (bool, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return false, "", ErrInvalidInput
	}
	ident, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, "", nil
		}
		return false, "", classifyStoreError(err)
	}
	if !ident.Activated {
		return false, "", nil
	}
	key, err := GenerateResetKey()
	if err != nil {
		return false, "", err
	}
	if err := s.store.SetResetKey(ctx, ident.ID, key, s.now().UTC()); err != nil {
		return false, "", classifyStoreError(err)
	}
	return true, key, nil
}

// CompletePasswordReset exchanges a valid, unexpired reset key for a new
// password hash and clears the key so it cannot be replayed.
func (s *Service) CompletePasswordReset(ctx context.Context, key, newPassword string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidInput
	}
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}
	ident, err := s.store.FindByResetKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return classifyStoreError(err)
	}
	if ident.ResetDate == nil || s.now().After(ident.ResetDate.Add(s.resetKeyValidity)) {
		return fmt.Errorf("%w: reset key expired", ErrInvalidInput)
	}

	var hash string
	if err := s.gate.Do(ctx, func() error {
		var hashErr error
		hash, hashErr = HashPassword(newPassword, s.bcryptCost)
		return hashErr
	}); err != nil {
		return err
	}

	if err := s.store.UpdatePassword(ctx, ident.ID, hash); err != nil {
		return classifyStoreError(err)
	}
	return classifyStoreError(s.store.ClearResetKey(ctx, ident.ID))
}

// CreateIdentity provisions an account with a generated initial password and a
// reset key the welcome flow hands to the user. Returns the stored identity and
// the raw generated password for one-time delivery.
func (s *Service) CreateIdentity(ctx context.Context, n NewIdentity) (Identity, string, error) {
	n.Login = strings.TrimSpace(strings.ToLower(n.Login))
	if !loginPattern.MatchString(n.Login) {
		return Identity{}, "", fmt.Errorf("%w: login must be 1-50 characters from the login alphabet", ErrInvalidInput)
	}
	if n.Email != "" {
		n.Email = strings.TrimSpace(strings.ToLower(n.Email))
		if len(n.Email) > 254 || !isEmail(n.Email) {
			return Identity{}, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
	}

	rawPassword, err := GeneratePassword()
	if err != nil {
		return Identity{}, "", err
	}
	resetKey, err := GenerateResetKey()
	if err != nil {
		return Identity{}, "", err
	}

	var hash string
	if err := s.gate.Do(ctx, func() error {
		var hashErr error
		hash, hashErr = HashPassword(rawPassword, s.bcryptCost)
		return hashErr
	}); err != nil {
		return Identity{}, "", err
	}

	ident, err := s.store.Create(ctx, n, hash, resetKey)
	if err != nil {
		return Identity{}, "", classifyStoreError(err)
	}
	return ident, rawPassword, nil
}

// SetActivated flips the activation gate for a login.
func (s *Service) SetActivated(ctx context.Context, login string, activated bool) error {
	login = strings.TrimSpace(strings.ToLower(login))
	if login == "" {
		return ErrInvalidInput
	}
	return classifyStoreError(s.store.SetActivated(ctx, login, activated))
}

// Status reports the account state for an explicitly user-initiated check,
// where disclosing "not activated" is intentional.
func (s *Service) Status(ctx context.Context, login string) (string, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	if login == "" {
		return "", ErrInvalidInput
	}
	ident, err := s.store.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", classifyStoreError(err)
	}
	if !ident.Activated {
		return "not_activated", nil
	}
	return "active", nil
}

// AuthoritiesByLogin lists every authority a login holds across all facilities.
// Administrative display only: access decisions always go through the
// facility-scoped resolver instead.
func (s *Service) AuthoritiesByLogin(ctx context.Context, login string) ([]string, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	if login == "" {
		return nil, ErrInvalidInput
	}
	names, err := s.store.AuthoritiesByLogin(ctx, login)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return names, nil
}

// Search pages through identities for the admin listing.
func (s *Service) Search(ctx context.Context, filter SearchFilter) ([]Identity, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, 0, classifyStoreError(err)
	}
	total, err := s.store.CountSearch(ctx, filter)
	if err != nil {
		return nil, 0, classifyStoreError(err)
	}
	return items, total, nil
}

// AssignRole links a user to a facility-scoped role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return ErrInvalidInput
	}
	return classifyStoreError(s.store.AssignRole(ctx, userID, roleID))
}
