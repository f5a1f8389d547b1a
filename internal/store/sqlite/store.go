package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"qlsv/internal/models"
	"qlsv/internal/store"
)

type SQLiteStore struct {
	store.BaseStore
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{BaseStore: store.BaseStore{
		DB: db,
		Converter: func(query string) string {
			return query
		},
	}}

	return s, nil
}

func (s *SQLiteStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, translateToSQLite)
}

// translateToSQLite converts Postgres SQL to SQLite dialect
func translateToSQLite(sql string) string {
	replacements := map[string]string{
		"BIGSERIAL PRIMARY KEY": "INTEGER PRIMARY KEY AUTOINCREMENT",
		"BIGINT":                "INTEGER",
		"DOUBLE PRECISION":      "REAL",
		"now()":                 "CURRENT_TIMESTAMP",
	}
	result := sql
	for from, to := range replacements {
		result = strings.ReplaceAll(result, from, to)
	}
	return result
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func (s *SQLiteStore) CreateAccount(account *models.Account) error {
	res, err := s.DB.Exec(`
		INSERT INTO accounts (username, email, password, role, student_id, instructor_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.StudentID,
		account.InstructorID,
	)
	if isUniqueViolation(err) {
		return store.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get account id: %w", err)
	}
	account.ID = id
	return nil
}

func (s *SQLiteStore) CreateStudent(student *models.Student) error {
	res, err := s.DB.Exec(`
		INSERT INTO students (full_name, date_of_birth, gender, address, email, avatar_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		student.FullName,
		student.DateOfBirth,
		student.Gender,
		student.Address,
		student.Email,
		student.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create student: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get student id: %w", err)
	}
	student.ID = id
	return nil
}

// ListStudentSummaries mirrors the Postgres aggregation in SQLite dialect:
// group_concat instead of string_agg, plain ROUND instead of numeric casts.
func (s *SQLiteStore) ListStudentSummaries() ([]models.StudentSummary, error) {
	query := `
		WITH enrollment AS (
			SELECT
				student_id,
				MIN(class_id) AS class_id
			FROM student_classes
			GROUP BY student_id
		),
		class_info AS (
			SELECT
				cs.class_id,
				group_concat(DISTINCT sub.subject_name) AS subjects,
				MIN(i.instructor_name) AS instructor_name
			FROM class_subjects cs
			JOIN subjects sub ON sub.subject_id = cs.subject_id
			LEFT JOIN instructors i ON i.instructor_id = cs.instructor_id
			GROUP BY cs.class_id
		),
		grade_stats AS (
			SELECT
				student_id,
				ROUND(AVG(process_score), 1) AS avg_process_score,
				ROUND(AVG(midterm_score), 1) AS avg_midterm_score,
				ROUND(AVG(final_score), 1) AS avg_final_score
			FROM grades
			GROUP BY student_id
		),
		payments AS (
			SELECT
				financial_id,
				SUM(amount_paid) AS total_paid
			FROM payment_history
			GROUP BY financial_id
		)
		SELECT
			s.student_id,
			s.full_name,
			s.date_of_birth,
			s.gender,
			s.address,
			s.email,
			s.avatar_url,
			c.class_name,
			c.course_name,
			ci.subjects,
			ci.instructor_name,
			g.avg_process_score,
			g.avg_midterm_score,
			g.avg_final_score,
			f.amount AS tuition_fee,
			f.payment_status,
			p.total_paid
		FROM students s
		LEFT JOIN enrollment e ON e.student_id = s.student_id
		LEFT JOIN classes c ON c.class_id = e.class_id
		LEFT JOIN class_info ci ON ci.class_id = e.class_id
		LEFT JOIN grade_stats g ON g.student_id = s.student_id
		LEFT JOIN financial f ON f.student_id = s.student_id
		LEFT JOIN payments p ON p.financial_id = f.financial_id
		ORDER BY s.student_id`

	var results []models.StudentSummary
	if err := s.DB.Select(&results, query); err != nil {
		return nil, fmt.Errorf("failed to fetch students: %w", err)
	}

	return results, nil
}
