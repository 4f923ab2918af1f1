package workflow

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap/zapcore"
)

// Credentials log in a user. They are never logged in clear text.
type Credentials struct {
	Email    string
	Password string
}

// Empty reports whether either half is missing.
func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// MaskedEmail keeps the first character of the local part and the domain.
func (c Credentials) MaskedEmail() string {
	at := strings.LastIndex(c.Email, "@")
	if at <= 0 {
		if c.Email == "" {
			return ""
		}
		return "***"
	}
	_, size := utf8.DecodeRuneInString(c.Email)
	return c.Email[:size] + "***" + c.Email[at:]
}

func (c Credentials) String() string {
	return c.MaskedEmail() + ":[REDACTED]"
}

// MarshalLogObject lets Credentials be logged with zap.Object.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("email", c.MaskedEmail())
	enc.AddBool("password_set", c.Password != "")
	return nil
}
