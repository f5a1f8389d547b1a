package models

import (
	"github.com/go-playground/validator/v10"
)

type Student struct {
	ID          int64   `db:"student_id" json:"student_id"`
	FullName    string  `db:"full_name" json:"full_name" validate:"required"`
	DateOfBirth *string `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *string `db:"gender" json:"gender,omitempty"`
	Address     *string `db:"address" json:"address,omitempty"`
	Email       *string `db:"email" json:"email,omitempty" validate:"omitempty,email"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url,omitempty"`
}

func (s *Student) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// StudentSummary is the denormalized per-student projection joining class,
// subject, instructor, grade and financial data. Pointer fields stay nil
// when a student has no matching rows (outer-join semantics).
type StudentSummary struct {
	StudentID       int64    `db:"student_id" json:"student_id"`
	FullName        string   `db:"full_name" json:"full_name"`
	DateOfBirth     *string  `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender          *string  `db:"gender" json:"gender,omitempty"`
	Address         *string  `db:"address" json:"address,omitempty"`
	Email           *string  `db:"email" json:"email,omitempty"`
	AvatarURL       *string  `db:"avatar_url" json:"avatar_url,omitempty"`
	ClassName       *string  `db:"class_name" json:"class_name,omitempty"`
	CourseName      *string  `db:"course_name" json:"course_name,omitempty"`
	Subjects        *string  `db:"subjects" json:"subjects,omitempty"`
	InstructorName  *string  `db:"instructor_name" json:"instructor_name,omitempty"`
	AvgProcessScore *float64 `db:"avg_process_score" json:"avg_process_score,omitempty"`
	AvgMidtermScore *float64 `db:"avg_midterm_score" json:"avg_midterm_score,omitempty"`
	AvgFinalScore   *float64 `db:"avg_final_score" json:"avg_final_score,omitempty"`
	TuitionFee      *float64 `db:"tuition_fee" json:"tuition_fee,omitempty"`
	PaymentStatus   *string  `db:"payment_status" json:"payment_status,omitempty"`
	TotalPaid       *float64 `db:"total_paid" json:"total_paid,omitempty"`
}
