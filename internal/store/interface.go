package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"qlsv/internal/models"
)

// ErrDuplicateAccount is returned by CreateAccount when the email or
// username collides with an existing row. Uniqueness is enforced by the
// database, so of two concurrent registrations only one can succeed.
var ErrDuplicateAccount = errors.New("account with this email or username already exists")

type Store interface {
	Close() error
	Ping(ctx context.Context) error
	ApplyMigrations(dir string) error

	CreateAccount(account *models.Account) error
	GetAccountByEmail(email string) (*models.Account, error)
	FindAccountByIdentity(email, username string) (*models.Account, error)
	LinkStudent(accountID, studentID int64) error
	LinkInstructor(accountID, instructorID int64) error

	CreateStudent(student *models.Student) error
	GetStudent(id int64) (*models.Student, error)
	UpdateStudent(student *models.Student) error
	DeleteStudent(id int64) error
	ListStudentSummaries() ([]models.StudentSummary, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *BaseStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) GetAccountByEmail(email string) (*models.Account, error) {
	var account models.Account
	query := s.Converter(`
		SELECT account_id, username, email, password, role, student_id, instructor_id
		FROM accounts
		WHERE email = ?
		LIMIT 1
	`)

	err := s.DB.Get(&account, query, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return &account, nil
}

func (s *BaseStore) FindAccountByIdentity(email, username string) (*models.Account, error) {
	var account models.Account
	query := s.Converter(`
		SELECT account_id, username, email, password, role, student_id, instructor_id
		FROM accounts
		WHERE email = ? OR username = ?
		LIMIT 1
	`)

	err := s.DB.Get(&account, query, email, username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

func (s *BaseStore) LinkStudent(accountID, studentID int64) error {
	query := s.Converter(`UPDATE accounts SET student_id = ? WHERE account_id = ?`)
	if _, err := s.DB.Exec(query, studentID, accountID); err != nil {
		return fmt.Errorf("failed to link student to account: %w", err)
	}
	return nil
}

func (s *BaseStore) LinkInstructor(accountID, instructorID int64) error {
	query := s.Converter(`UPDATE accounts SET instructor_id = ? WHERE account_id = ?`)
	if _, err := s.DB.Exec(query, instructorID, accountID); err != nil {
		return fmt.Errorf("failed to link instructor to account: %w", err)
	}
	return nil
}

func (s *BaseStore) GetStudent(id int64) (*models.Student, error) {
	var student models.Student
	query := s.Converter(`
		SELECT student_id, full_name, date_of_birth, gender, address, email, avatar_url
		FROM students
		WHERE student_id = ?
	`)

	err := s.DB.Get(&student, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &student, nil
}

func (s *BaseStore) UpdateStudent(student *models.Student) error {
	query := s.Converter(`
		UPDATE students
		SET full_name = ?, date_of_birth = ?, gender = ?, address = ?, email = ?, avatar_url = ?
		WHERE student_id = ?
	`)
	_, err := s.DB.Exec(query,
		student.FullName,
		student.DateOfBirth,
		student.Gender,
		student.Address,
		student.Email,
		student.AvatarURL,
		student.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update student: %w", err)
	}
	return nil
}

func (s *BaseStore) DeleteStudent(id int64) error {
	query := s.Converter(`DELETE FROM students WHERE student_id = ?`)
	if _, err := s.DB.Exec(query, id); err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	return nil
}
