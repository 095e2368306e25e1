package identity

import "time"

// Identity is an authenticable account record. The password is stored only as a
// bcrypt hash; Authorities is populated by the resolver and always reflects a
// single facility, never the union across facilities.
type Identity struct {
	ID           int64      `json:"id"`
	Login        string     `json:"login"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Email        string     `json:"email,omitempty"`
	Activated    bool       `json:"activated"`
	LangKey      string     `json:"lang_key,omitempty"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	ResetKey     string     `json:"-"`
	ResetDate    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Authorities  []string   `json:"authorities,omitempty"`
}

// Authority is a named permission grant, e.g. "ROLE_ADMIN".
type Authority struct {
	Name string `json:"name"`
}

// Role bundles authorities inside exactly one facility.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FacilityID  int64     `json:"facility_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Facility is the tenant boundary every authorization decision is scoped to.
type Facility struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Principal is the outcome of a successful authentication: a login plus the
// authority set that holds under one facility.
type Principal struct {
	Login       string
	FacilityID  int64
	Authorities []string
}

// HasAuthority reports whether the principal carries the named authority.
func (p Principal) HasAuthority(name string) bool {
	for _, a := range p.Authorities {
		if a == name {
			return true
		}
	}
	return false
}

// PasswordRequest is a password authentication attempt: principal identifier,
// presented secret and the claimed facility. It lives for one request only.
type PasswordRequest struct {
	Login      string
	Password   string
	FacilityID int64
	RememberMe bool
}

const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)
