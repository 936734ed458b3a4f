package models

import (
	"fmt"

	"lingocrowd/core/internal/utils"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleTeacher, RoleModerator, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// CanTeach reports whether the role may open conversations, send offers and own projects.
func (r Role) CanTeach() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// IsStaff covers moderators and admins.
func (r Role) IsStaff() bool {
	return r == RoleModerator || r == RoleAdmin
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID utils.SixID
	Role   Role
}

// Is reports whether the actor is the given user.
func (a Actor) Is(userID utils.SixID) bool {
	return a.UserID == userID
}
