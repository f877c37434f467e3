package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/user"
)

const userColumns = `id, username, name, COALESCE(email, '') AS email, role, class_name, is_active, password_hash,
	created_at, updated_at, last_login`

var userOrderingFields = map[string]string{
	"id":         "id",
	"username":   "username",
	"name":       "name",
	"email":      "email",
	"role":       "role",
	"class_name": "class_name",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{exec: exec}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	q := `SELECT username, COALESCE(email, '') AS email FROM users WHERE (username = ? OR (? <> '' AND email = ?))`
	args := []interface{}{username, email, email}
	if len(excludedUsers) > 0 {
		ids := make([]int, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		q += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	q += " LIMIT 1"

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var found struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	err = sqlx.GetContext(ctx, repo.exec, &found, repo.exec.Rebind(q), args...)
	switch {
	case errors.Cause(err) == sql.ErrNoRows:
		return nil
	case err != nil:
		return errors.Wrap(err, "checking user uniqueness")
	case found.Username == username:
		return user.ErrUsernameExists
	default:
		return user.ErrEmailExists
	}
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO users (username, name, email, role, class_name, is_active, password_hash, created_at, updated_at, last_login)
		VALUES (:username, :name, NULLIF(:email, ''), :role, :class_name, :is_active, :password_hash, :created_at, :updated_at, :last_login)
		RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, repo.exec, q, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err = rows.Scan(&usr.ID); err != nil {
			return user.User{}, errors.Wrap(err, "scanning user ID")
		}
	}
	return usr, errors.Wrap(rows.Err(), "inserting user")
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			where = append(where, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val)
		}
		if len(filter.Roles) > 0 {
			where = append(where, "role IN (?)")
			args = append(args, filter.Roles)
		}
		if filter.ClassName != "" {
			where = append(where, "class_name ILIKE ?")
			args = append(args, filter.ClassName)
		}
		if filter.IsActive != nil {
			where = append(where, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
		if len(filter.ExcludeIDs) > 0 {
			where = append(where, "id NOT IN (?)")
			args = append(args, filter.ExcludeIDs)
		}
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += core.OrderByClause(ordering, userOrderingFields, "id ASC")

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}
	users := make([]user.User, 0)
	if err = sqlx.SelectContext(ctx, repo.exec, &users, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	q := "SELECT " + userColumns + " FROM users WHERE "
	var args []interface{}

	switch {
	case filter.ID != 0:
		q += "id = ?"
		args = append(args, filter.ID)
	case filter.Username != "":
		q += "username = ?"
		args = append(args, filter.Username)
	case filter.Email != "":
		q += "email = ?"
		args = append(args, filter.Email)
	case filter.UsernameOrEmail != "":
		q += "(username = ? OR email = ?)"
		args = append(args, filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var usr user.User
	if err := sqlx.GetContext(ctx, repo.exec, &usr, repo.exec.Rebind(q+" LIMIT 1"), args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return usr, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET username = :username, name = :name, email = NULLIF(:email, ''), role = :role,
		class_name = :class_name, is_active = :is_active, password_hash = :password_hash, updated_at = :updated_at,
		last_login = :last_login
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.exec.ExecContext(ctx, repo.exec.Rebind(q), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting deleted users")
}
