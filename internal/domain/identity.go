// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrInvalidRole     = errors.New("invalid role")
)

type UserID string

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// IsHost reports whether a participant with this role opens the session as host.
func (r Role) IsHost() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Identity is the already-verified user handed to a session by its caller.
type Identity struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"name"`
	Role        Role   `json:"role"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id UserID, name string, role Role) (Identity, error) {
	if err := ValidateUserID(id); err != nil {
		return Identity{}, err
	}
	name = strings.TrimSpace(name)
	if err := ValidateUsername(name); err != nil {
		return Identity{}, err
	}
	if !role.Valid() {
		return Identity{}, ErrInvalidRole
	}
	return Identity{UserID: id, DisplayName: name, Role: role}, nil
}

func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
