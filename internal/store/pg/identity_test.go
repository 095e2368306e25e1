package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"asklepios.org/internal/identity"
)

var identityRows = []string{
	"id", "login", "password_hash", "first_name", "last_name", "email",
	"activated", "lang_key", "phone_number", "birth_date", "gender",
	"reset_key", "reset_date", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func identityRow(rows *sqlmock.Rows, id int64, login string, activated bool, extra ...driver.Value) *sqlmock.Rows {
	now := time.Now()
	values := []driver.Value{
		id, login, "$2a$10$hashhashhashhashhashhashhashhashhashhashhashhashhashh",
		nil, nil, login + "@clinic.example",
		activated, "en", nil, nil, nil,
		nil, nil, now, now,
	}
	values = append(values, extra...)
	return rows.AddRow(values...)
}

func TestRowsByLoginAndFacility(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(append(append([]string{}, identityRows...), "authority_name"))
	identityRow(rows, 1, "admin", true, "ROLE_ADMIN")
	identityRow(rows, 1, "admin", true, "ROLE_USER")
	identityRow(rows, 1, "admin", true, nil)

	mock.ExpectQuery(`left join user_role ur on ur.user_id = u.id`).
		WithArgs("admin", int64(7)).
		WillReturnRows(rows)

	got, err := store.RowsByLoginAndFacility(context.Background(), "admin", 7)
	if err != nil {
		t.Fatalf("RowsByLoginAndFacility: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("row count = %d, want 3", len(got))
	}
	if got[0].AuthorityName != "ROLE_ADMIN" || !got[0].HasAuthority {
		t.Fatalf("first row = %+v", got[0])
	}
	if got[2].HasAuthority {
		t.Fatalf("null authority row must report HasAuthority=false: %+v", got[2])
	}
	if got[0].Identity.Login != "admin" || !got[0].Identity.Activated {
		t.Fatalf("identity fields lost in scan: %+v", got[0].Identity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRowsByLoginAndFacilityEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`left join user_role ur on ur.user_id = u.id`).
		WithArgs("ghost", int64(7)).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, identityRows...), "authority_name")))

	got, err := store.RowsByLoginAndFacility(context.Background(), "ghost", 7)
	if err != nil {
		t.Fatalf("RowsByLoginAndFacility: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected zero rows, got %d", len(got))
	}
}

func TestFindByLoginNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`from app_user u where lower\(u.login\)`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(identityRows))

	_, err := store.FindByLogin(context.Background(), "ghost")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByResetKey(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(identityRows)
	identityRow(rows, 5, "nurse", true)
	mock.ExpectQuery(`from app_user u where u.reset_key`).
		WithArgs("ABCDEFGHIJKLMNOPQRST").
		WillReturnRows(rows)

	ident, err := store.FindByResetKey(context.Background(), "ABCDEFGHIJKLMNOPQRST")
	if err != nil {
		t.Fatalf("FindByResetKey: %v", err)
	}
	if ident.ID != 5 || ident.Login != "nurse" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestSearchRejectsUnknownSortColumn(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Search(context.Background(), identity.SearchFilter{
		Sort:  "password_hash; drop table app_user",
		Limit: 10,
	})
	if !errors.Is(err, identity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unlisted sort column, got %v", err)
	}
}

func TestSearchParameterizesFilters(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(identityRows)
	identityRow(rows, 2, "nurse", true)

	// The ILIKE pattern is assembled inside SQL; the raw filter value travels
	// as a bind parameter.
	mock.ExpectQuery(`u.login ilike '%' \|\| \$1 \|\| '%' order by u.login asc limit \$2 offset \$3`).
		WithArgs("nur", 10, 0).
		WillReturnRows(rows)

	got, err := store.Search(context.Background(), identity.SearchFilter{
		Login: "nur",
		Sort:  "login",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Login != "nurse" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountSearch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select count\(\*\) from app_user u where u.email ilike`).
		WithArgs("clinic.example").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	total, err := store.CountSearch(context.Background(), identity.SearchFilter{Email: "clinic.example"})
	if err != nil {
		t.Fatalf("CountSearch: %v", err)
	}
	if total != 12 {
		t.Fatalf("total = %d, want 12", total)
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`insert into app_user`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.Create(context.Background(), identity.NewIdentity{Login: "admin"}, "hash", "key")
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAssignRoleMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into user_role`).
		WithArgs(int64(1), int64(99)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.AssignRole(context.Background(), 1, 99)
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePasswordMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`update app_user set password_hash`).
		WithArgs(int64(404), "newhash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdatePassword(context.Background(), 404, "newhash")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifyConnectionErrors(t *testing.T) {
	cases := []error{
		&pgconn.PgError{Code: "08006"},
		context.DeadlineExceeded,
	}
	for _, cause := range cases {
		err := classify(cause)
		if !errors.Is(err, identity.ErrStoreUnavailable) {
			t.Fatalf("classify(%v) = %v, want ErrStoreUnavailable", cause, err)
		}
	}
	if err := classify(&pgconn.PgError{Code: pgErrUniqueViolation}); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("unique violation must classify as conflict, got %v", err)
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}

func TestSetResetKeyAndClear(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`update app_user set reset_key = \$2, reset_date = \$3`).
		WithArgs(int64(5), "ABCDEFGHIJKLMNOPQRST", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update app_user set reset_key = null, reset_date = null`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetResetKey(context.Background(), 5, "ABCDEFGHIJKLMNOPQRST", at); err != nil {
		t.Fatalf("SetResetKey: %v", err)
	}
	if err := store.ClearResetKey(context.Background(), 5); err != nil {
		t.Fatalf("ClearResetKey: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRolesByFacility(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`from role\s+where facility_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "facility_id", "created_at"}).
			AddRow(int64(1), "ward-admin", "administers ward 3", int64(7), now).
			AddRow(int64(2), "ward-nurse", nil, int64(7), now))

	roles, err := store.RolesByFacility(context.Background(), 7)
	if err != nil {
		t.Fatalf("RolesByFacility: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("role count = %d, want 2", len(roles))
	}
	if roles[1].Description != "" {
		t.Fatalf("null description must scan to empty string, got %q", roles[1].Description)
	}
}
