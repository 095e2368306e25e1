package identity

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost mirrors the work factor the stored 60-byte hashes were
	// produced with. The cost is configuration, not a hardwired constant.
	DefaultBcryptCost = bcrypt.DefaultCost

	randomKeyLength = 20
	alphanumeric    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// PasswordPolicy holds the configured complexity bounds for plaintext passwords.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordPolicy matches the bounds enforced at the HTTP boundary.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 4, MaxLength: 100}
}

// Validate reports whether the plaintext satisfies the policy.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength || len(password) > p.MaxLength {
		return fmt.Errorf("%w: password length must be between %d and %d", ErrInvalidInput, p.MinLength, p.MaxLength)
	}
	return nil
}

// HashPassword hashes a plaintext password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
// The comparison is constant-time within bcrypt's own guarantee.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateResetKey returns a 20-character alphanumeric single-use key drawn
// from the process-wide CSPRNG.
func GenerateResetKey() (string, error) {
	return randomAlphanumeric(randomKeyLength)
}

// GeneratePassword returns a random initial password for admin-created accounts.
func GeneratePassword() (string, error) {
	return randomAlphanumeric(randomKeyLength)
}

// randomAlphanumeric samples crypto/rand with rejection to keep the
// distribution uniform over the alphabet.
func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	max := byte(256 - (256 % len(alphanumeric)))
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
