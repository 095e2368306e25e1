package identity

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// dummyHash is a bcrypt hash of a random throwaway value. When resolution fails
// we still burn one comparison against it so the "user absent" and "user
// present, wrong password" paths cost roughly the same.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashGate bounds concurrent password-hash work. bcrypt comparisons take tens
// of milliseconds; running them unbounded on request goroutines would let a
// login burst starve everything else sharing the scheduler.
type HashGate struct {
	sem     *semaphore.Weighted
	observe func(time.Duration)
}

// NewHashGate creates a gate admitting at most workers concurrent comparisons.
// Zero or negative falls back to the number of CPUs.
func NewHashGate(workers int) *HashGate {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &HashGate{sem: semaphore.NewWeighted(int64(workers))}
}

// OnWait installs a callback receiving the time each attempt spent queued for
// a slot. Call it before the gate sees traffic.
func (g *HashGate) OnWait(fn func(time.Duration)) { g.observe = fn }

// Do runs fn under the gate, honoring ctx while waiting for a slot.
func (g *HashGate) Do(ctx context.Context, fn func() error) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if g.observe != nil {
		g.observe(time.Since(start))
	}
	defer g.sem.Release(1)
	return fn()
}

// Authenticator validates a presented secret against a resolved identity and
// produces an authenticated principal. Resolution strictly precedes secret
// verification; verification strictly precedes anything a caller does with the
// principal.
type Authenticator struct {
	resolver *Resolver
	gate     *HashGate
	compare  func(hash, password string) error
}

// NewAuthenticator wires the engine. A nil gate gets a CPU-bound default.
func NewAuthenticator(resolver *Resolver, gate *HashGate) (*Authenticator, error) {
	if resolver == nil {
		return nil, errors.New("identity: resolver is required")
	}
	if gate == nil {
		gate = NewHashGate(0)
	}
	return &Authenticator{
		resolver: resolver,
		gate:     gate,
		compare:  VerifyPassword,
	}, nil
}

// Authenticate resolves req.Login under req.FacilityID and verifies the secret.
// Failures come back as ErrNotFound, ErrNotActivated, ErrBadCredentials or a
// wrapped ErrStoreUnavailable; the HTTP boundary decides which of those are
// collapsed into a generic response.
func (a *Authenticator) Authenticate(ctx context.Context, req PasswordRequest) (Principal, error) {
	if req.Login == "" || req.Password == "" || req.FacilityID <= 0 {
		return Principal{}, ErrInvalidInput
	}

	ident, err := a.resolver.Resolve(ctx, req.Login, req.FacilityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Equalize timing with the found-but-wrong-password path.
			_ = a.gate.Do(ctx, func() error {
				_ = a.compare(dummyHash, req.Password)
				return nil
			})
		}
		return Principal{}, err
	}

	if err := a.gate.Do(ctx, func() error {
		return a.compare(ident.PasswordHash, req.Password)
	}); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Principal{}, ErrBadCredentials
		}
		if errors.Is(err, ErrStoreUnavailable) {
			return Principal{}, err
		}
		return Principal{}, ErrBadCredentials
	}

	return Principal{
		Login:       ident.Login,
		FacilityID:  req.FacilityID,
		Authorities: ident.Authorities,
	}, nil
}
