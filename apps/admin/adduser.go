package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/user"
)

var errInvalidRole = errors.New("role must be one of admin, teacher or student")

type newUserArgs struct {
	name, uname, email, role, className, pwd string
}

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(args newUserArgs) error {
	ctx := context.Background()
	uname := core.CleanString(args.uname, true /* lower */)
	email := core.CleanString(args.email, true /* lower */)
	role := core.CleanString(args.role, true /* lower */)
	if !user.IsValidRole(role) {
		return errInvalidRole
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	exists := err == nil
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{Username: uname, CreatedAt: now}
	}

	if email != "" {
		usr.Email = email
	}
	if name := core.CleanString(args.name); name != "" {
		usr.Name = name
	}
	usr.Role = role
	if className := core.CleanString(args.className); className != "" {
		usr.ClassName = null.StringFrom(className)
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(args.pwd); err != nil {
		return err
	}

	if err = cli.usrRepo.CheckUsernameUniqueness(ctx, usr.Username, usr.Email, usr); err != nil {
		return err
	}
	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
