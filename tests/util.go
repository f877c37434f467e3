package testutil

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	ut "github.com/go-playground/universal-translator"
	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/user"
	logsvc "github.com/trezcool/cinderella/services/logger"
	"github.com/trezcool/cinderella/storage/database"
)

// NewValidator returns a validator with every app validator registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// NewLogger returns a silent logger; Rollbar stays disabled in test mode.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

func CreateUser(t *testing.T, repo user.Repository, name, uname, email, pwd, role string, isActive bool, createdAt ...time.Time) user.User {
	t.Helper()

	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Microsecond)
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd == "" {
		pwd = "Pass.123"
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

// CreateStudent creates an active student of `className`.
func CreateStudent(t *testing.T, repo user.Repository, uname, className string) user.User {
	t.Helper()

	usr := CreateUser(t, repo, "", uname, uname+"@test.cd", "", user.RoleStudent, true)
	usr.ClassName = null.StringFrom(className)
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateStudent(): %v", err)
	}
	return usr
}

func CreateAssignment(t *testing.T, repo assignment.Repository, teacherID int, title, className string, dueDate time.Time) assignment.Assignment {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	asgmt, err := repo.CreateAssignment(context.Background(), assignment.Assignment{
		TeacherID: teacherID,
		Title:     title,
		ClassName: className,
		DueDate:   dueDate.UTC().Truncate(time.Microsecond),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAssignment(): %v", err)
	}
	return asgmt
}

// PrepareDB connects to the test database, migrates it and empties it.
// The test is skipped unless TEST_DATABASE_HOST is set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST not set: skipping Postgres tests")
	}
	_ = os.Setenv("ENV", "TEST")
	conf := core.NewConfig()

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.MigrateUp(db); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	ResetDB(t, db)
	return db
}

func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()

	if err := database.Truncate(db); err != nil {
		t.Fatalf("ResetDB(): %v", err)
	}
}
