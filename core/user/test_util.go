package user

import (
	"github.com/trezcool/cinderella/core"
)

// MakeResetToken exposes the password reset token generation to tests outside this package.
func MakeResetToken(usr User, conf *core.Config) (string, error) {
	return newTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta).makeToken(usr)
}
