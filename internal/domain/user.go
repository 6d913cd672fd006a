// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64

	AnonymousName = "Anonymous"
)

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

type User struct {
	ID       UserID `json:"userId"`
	Username string `json:"userName"`
}

// NewUser builds the identity a client announces for itself. The display name
// is trimmed, capped and falls back to AnonymousName.
func NewUser(id string, username string) (User, error) {
	id = strings.TrimSpace(id)
	if len(id) > MaxUserIDLen {
		return User{}, ErrUserIDTooLong
	}
	return User{ID: UserID(id), Username: NormalizeUsername(username)}, nil
}

func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return AnonymousName
	}
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		username = string([]rune(username)[:MaxUsernameLen])
	}
	return username
}

// Validate is used where a user id is mandatory (mute endpoints).
func (id UserID) Validate() error {
	if id == "" {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}
