package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

var testFS = fstest.MapFS{
	"sql/0001_users.up.sql":   {Data: []byte("create table users (id bigint);")},
	"sql/0001_users.down.sql": {Data: []byte("drop table users;")},
	"sql/0002_roles.up.sql":   {Data: []byte("create table roles (id bigint);\ncreate index ix_roles on roles (id);")},
	"seeds/0001_admin.sql":    {Data: []byte("insert into users (id) values (1);")},
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`create table if not exists schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))

	// Only 0002 is pending; it runs statement by statement in one tx.
	mock.ExpectBegin()
	mock.ExpectExec(`create table roles`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create index ix_roles`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_roles.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, testFS, "sql", "seeds")
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownRollsBackLastApplied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations order by applied_at asc`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_users.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(db, testFS, "sql", "seeds")
	if err := m.Down(context.Background()); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownWithoutHistoryFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	m := NewManager(db, testFS, "sql", "seeds")
	if err := m.Down(context.Background()); err == nil {
		t.Fatal("expected error when nothing is applied")
	}
}

func TestSeedSkipsExecuted(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_seeds`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_admin.sql"))

	m := NewManager(db, testFS, "sql", "seeds")
	if err := m.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b');\ncreate index i on t (c);")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(stmts), stmts)
	}
}
