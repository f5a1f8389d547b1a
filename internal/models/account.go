package models

import (
	"github.com/go-playground/validator/v10"
)

// Role is the closed set of account roles. LinkStudent/LinkInstructor only
// make sense for RoleStudent and RoleInstructor; anything else passed to the
// role-linkage path is a programming error.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID           int64  `db:"account_id" json:"account_id"`
	Username     string `db:"username" json:"username" validate:"required"`
	Email        string `db:"email" json:"email" validate:"required,email"`
	PasswordHash string `db:"password" json:"-"`
	Role         Role   `db:"role" json:"role" validate:"required,oneof=student instructor admin"`
	StudentID    *int64 `db:"student_id" json:"student_id,omitempty"`
	InstructorID *int64 `db:"instructor_id" json:"instructor_id,omitempty"`
}

func (a *Account) Validate() error {
	validate := validator.New()
	return validate.Struct(a)
}
