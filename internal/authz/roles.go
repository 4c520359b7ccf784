package authz

import "strings"

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
)

// ParseRole accepts any casing; unknown values come back as ("", false).
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleTeacher:
		return RoleTeacher, true
	}
	return "", false
}

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// RequiresCourse is true for roles that must be enrolled in a course.
func (r Role) RequiresCourse() bool {
	return r == RoleStudent
}
