package identity

import (
	"context"
	"time"
)

// JoinedRow is one row of the identity/role/authority left join: the identity
// repeated per granted authority, with AuthorityName empty when the matching
// role carries no authority at all.
type JoinedRow struct {
	Identity      Identity
	AuthorityName string
	HasAuthority  bool
}

// SearchFilter narrows the administrative identity listing. Sort must be one of
// the store's allow-listed columns; anything else is rejected, never interpolated.
type SearchFilter struct {
	Login      string
	Email      string
	Name       string
	Sort       string
	Descending bool
	Offset     int
	Limit      int
}

// NewIdentity carries the fields an administrator supplies when creating an account.
type NewIdentity struct {
	Login       string
	Email       string
	FirstName   string
	LastName    string
	LangKey     string
	PhoneNumber string
	BirthDate   *time.Time
	Gender      string
}

// Store abstracts the credential store consumed by the resolver and the user
// service. Reads are safe for concurrent use; every method honors the context
// deadline and reports transient failures as ErrStoreUnavailable.
type Store interface {
	// RowsByLoginAndFacility returns the joined (identity, authority) rows for a
	// lower-cased login, restricted to roles belonging to the given facility.
	RowsByLoginAndFacility(ctx context.Context, login string, facilityID int64) ([]JoinedRow, error)
	// RowsByEmailAndFacility is the email-shaped variant, matched case-insensitively.
	RowsByEmailAndFacility(ctx context.Context, email string, facilityID int64) ([]JoinedRow, error)

	FindByLogin(ctx context.Context, login string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByResetKey(ctx context.Context, key string) (Identity, error)

	// AuthoritiesByLogin is the facility-agnostic authority listing. It exists
	// for administrative display only and must never feed an access decision.
	AuthoritiesByLogin(ctx context.Context, login string) ([]string, error)

	Search(ctx context.Context, filter SearchFilter) ([]Identity, error)
	CountSearch(ctx context.Context, filter SearchFilter) (int64, error)

	Create(ctx context.Context, n NewIdentity, passwordHash, resetKey string) (Identity, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetResetKey(ctx context.Context, id int64, key string, at time.Time) error
	ClearResetKey(ctx context.Context, id int64) error
	SetActivated(ctx context.Context, login string, activated bool) error

	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	CreateRole(ctx context.Context, name, description string, facilityID int64) (Role, error)
	RolesByFacility(ctx context.Context, facilityID int64) ([]Role, error)
	CreateFacility(ctx context.Context, name, kind string) (Facility, error)
	GetFacility(ctx context.Context, id int64) (Facility, error)
}
