package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"asklepios.org/internal/identity"
)

// identityColumns is the canonical app_user projection shared by the single-row
// lookups. The join query appends the authority column to it.
const identityColumns = `
	u.id, u.login, u.password_hash, u.first_name, u.last_name, u.email,
	u.activated, u.lang_key, u.phone_number, u.birth_date, u.gender,
	u.reset_key, u.reset_date, u.created_at, u.updated_at`

const joinedRowsQuery = `
	select ` + identityColumns + `, ra.authority_name
	from app_user u
	left join user_role ur on ur.user_id = u.id
	left join role r on r.id = ur.role_id
	left join role_authority ra on ra.role_id = ur.role_id
	where lower(u.%s) = lower($1) and r.facility_id = $2
	order by ra.authority_name`

// sortColumns is the allow-list for the admin search. Anything not listed is
// rejected before query assembly; user input never reaches the SQL text.
var sortColumns = map[string]string{
	"":           "u.id",
	"id":         "u.id",
	"login":      "u.login",
	"email":      "u.email",
	"first_name": "u.first_name",
	"last_name":  "u.last_name",
	"created_at": "u.created_at",
}

func (s *Store) RowsByLoginAndFacility(ctx context.Context, login string, facilityID int64) ([]identity.JoinedRow, error) {
	return s.joinedRows(ctx, "login", login, facilityID)
}

func (s *Store) RowsByEmailAndFacility(ctx context.Context, email string, facilityID int64) ([]identity.JoinedRow, error) {
	return s.joinedRows(ctx, "email", email, facilityID)
}

func (s *Store) joinedRows(ctx context.Context, column, value string, facilityID int64) ([]identity.JoinedRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(joinedRowsQuery, column), value, facilityID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []identity.JoinedRow
	for rows.Next() {
		var (
			row       identity.JoinedRow
			authority sql.NullString
		)
		if err := scanIdentity(rows, &row.Identity, &authority); err != nil {
			return nil, classify(err)
		}
		row.AuthorityName = authority.String
		row.HasAuthority = authority.Valid
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) FindByLogin(ctx context.Context, login string) (identity.Identity, error) {
	return s.findOne(ctx, `where lower(u.login) = lower($1)`, login)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (identity.Identity, error) {
	return s.findOne(ctx, `where lower(u.email) = lower($1)`, email)
}

func (s *Store) FindByResetKey(ctx context.Context, key string) (identity.Identity, error) {
	return s.findOne(ctx, `where u.reset_key = $1`, key)
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from app_user u `+where, arg)
	var ident identity.Identity
	if err := scanIdentity(row, &ident, nil); err != nil {
		return identity.Identity{}, classify(err)
	}
	return ident, nil
}

func (s *Store) AuthoritiesByLogin(ctx context.Context, login string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct ra.authority_name
		from app_user u
		join user_role ur on ur.user_id = u.id
		join role_authority ra on ra.role_id = ur.role_id
		where lower(u.login) = lower($1)
		order by ra.authority_name
	`, login)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return names, nil
}

func (s *Store) Search(ctx context.Context, filter identity.SearchFilter) ([]identity.Identity, error) {
	orderBy, ok := sortColumns[filter.Sort]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sort column %q", identity.ErrInvalidInput, filter.Sort)
	}
	direction := "asc"
	if filter.Descending {
		direction = "desc"
	}

	where, args := searchPredicate(filter)
	query := fmt.Sprintf(`select `+identityColumns+` from app_user u %s order by %s %s limit $%d offset $%d`,
		where, orderBy, direction, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		var ident identity.Identity
		if err := scanIdentity(rows, &ident, nil); err != nil {
			return nil, classify(err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) CountSearch(ctx context.Context, filter identity.SearchFilter) (int64, error) {
	where, args := searchPredicate(filter)
	var total int64
	err := s.db.QueryRowContext(ctx, `select count(*) from app_user u `+where, args...).Scan(&total)
	if err != nil {
		return 0, classify(err)
	}
	return total, nil
}

// searchPredicate builds the shared where clause. Every value is a bind
// parameter; the pattern wrapping happens inside SQL, not in Go.
func searchPredicate(filter identity.SearchFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func() int { return len(args) + 1 }
	if filter.Login != "" {
		clauses = append(clauses, fmt.Sprintf("u.login ilike '%%' || $%d || '%%'", next()))
		args = append(args, filter.Login)
	}
	if filter.Email != "" {
		clauses = append(clauses, fmt.Sprintf("u.email ilike '%%' || $%d || '%%'", next()))
		args = append(args, filter.Email)
	}
	if filter.Name != "" {
		n := next()
		clauses = append(clauses, fmt.Sprintf("(u.first_name ilike '%%' || $%d || '%%' or u.last_name ilike '%%' || $%d || '%%')", n, n))
		args = append(args, filter.Name)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "where " + strings.Join(clauses, " and "), args
}

func (s *Store) Create(ctx context.Context, n identity.NewIdentity, passwordHash, resetKey string) (identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into app_user (login, password_hash, first_name, last_name, email,
			activated, lang_key, phone_number, birth_date, gender, reset_key, reset_date)
		values ($1, $2, $3, $4, $5, false, $6, $7, $8, $9, $10, now())
		returning `+identityColumns+``,
		n.Login, passwordHash, nullIfEmpty(n.FirstName), nullIfEmpty(n.LastName),
		nullIfEmpty(n.Email), nullIfEmpty(n.LangKey), nullIfEmpty(n.PhoneNumber),
		n.BirthDate, nullIfEmpty(n.Gender), resetKey)
	var ident identity.Identity
	if err := scanIdentity(row, &ident, nil); err != nil {
		return identity.Identity{}, classify(err)
	}
	return ident, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.execExpectingRow(ctx, `
		update app_user set password_hash = $2, updated_at = now() where id = $1
	`, id, passwordHash)
}

func (s *Store) SetResetKey(ctx context.Context, id int64, key string, at time.Time) error {
	return s.execExpectingRow(ctx, `
		update app_user set reset_key = $2, reset_date = $3, updated_at = now() where id = $1
	`, id, key, at)
}

func (s *Store) ClearResetKey(ctx context.Context, id int64) error {
	return s.execExpectingRow(ctx, `
		update app_user set reset_key = null, reset_date = null, updated_at = now() where id = $1
	`, id)
}

func (s *Store) SetActivated(ctx context.Context, login string, activated bool) error {
	return s.execExpectingRow(ctx, `
		update app_user set activated = $2, updated_at = now() where lower(login) = lower($1)
	`, login, activated)
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_role (user_id, role_id) values ($1, $2)
	`, userID, roleID)
	return classify(err)
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return s.execExpectingRow(ctx, `
		delete from user_role where user_id = $1 and role_id = $2
	`, userID, roleID)
}

func (s *Store) CreateRole(ctx context.Context, name, description string, facilityID int64) (identity.Role, error) {
	var (
		role identity.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		insert into role (name, description, facility_id)
		values ($1, $2, $3)
		returning id, name, description, facility_id, created_at
	`, name, nullIfEmpty(description), facilityID).
		Scan(&role.ID, &role.Name, &desc, &role.FacilityID, &role.CreatedAt)
	if err != nil {
		return identity.Role{}, classify(err)
	}
	role.Description = desc.String
	return role, nil
}

func (s *Store) RolesByFacility(ctx context.Context, facilityID int64) ([]identity.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, facility_id, created_at
		from role
		where facility_id = $1
		order by name
	`, facilityID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var (
			role identity.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.FacilityID, &role.CreatedAt); err != nil {
			return nil, classify(err)
		}
		role.Description = desc.String
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return roles, nil
}

func (s *Store) CreateFacility(ctx context.Context, name, kind string) (identity.Facility, error) {
	var facility identity.Facility
	err := s.db.QueryRowContext(ctx, `
		insert into facility (name, type) values ($1, $2)
		returning id, name, type
	`, name, kind).Scan(&facility.ID, &facility.Name, &facility.Type)
	if err != nil {
		return identity.Facility{}, classify(err)
	}
	return facility, nil
}

func (s *Store) GetFacility(ctx context.Context, id int64) (identity.Facility, error) {
	var facility identity.Facility
	err := s.db.QueryRowContext(ctx, `
		select id, name, type from facility where id = $1
	`, id).Scan(&facility.ID, &facility.Name, &facility.Type)
	if err != nil {
		return identity.Facility{}, classify(err)
	}
	return facility, nil
}

func (s *Store) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanIdentity reads the identityColumns projection, mapping nullable columns
// onto their zero values. authority receives the extra join column when non-nil.
func scanIdentity(sc scanner, ident *identity.Identity, authority *sql.NullString) error {
	var (
		firstName sql.NullString
		lastName  sql.NullString
		email     sql.NullString
		langKey   sql.NullString
		phone     sql.NullString
		birthDate sql.NullTime
		gender    sql.NullString
		resetKey  sql.NullString
		resetDate sql.NullTime
	)
	dest := []any{
		&ident.ID, &ident.Login, &ident.PasswordHash, &firstName, &lastName, &email,
		&ident.Activated, &langKey, &phone, &birthDate, &gender,
		&resetKey, &resetDate, &ident.CreatedAt, &ident.UpdatedAt,
	}
	if authority != nil {
		dest = append(dest, authority)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}
	ident.FirstName = firstName.String
	ident.LastName = lastName.String
	ident.Email = email.String
	ident.LangKey = langKey.String
	ident.PhoneNumber = phone.String
	ident.Gender = gender.String
	ident.ResetKey = resetKey.String
	if birthDate.Valid {
		t := birthDate.Time
		ident.BirthDate = &t
	}
	if resetDate.Valid {
		t := resetDate.Time
		ident.ResetDate = &t
	}
	return nil
}
