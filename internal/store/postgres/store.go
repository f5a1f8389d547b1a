package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"qlsv/internal/models"
	"qlsv/internal/store"
)

type PostgresStore struct {
	store.BaseStore
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Bounded pool; callers queue when exhausted.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &PostgresStore{BaseStore: store.BaseStore{
		DB: db,
		Converter: func(query string) string {
			out := query
			for i := 1; strings.Contains(out, "?"); i++ {
				out = strings.Replace(out, "?", fmt.Sprintf("$%d", i), 1)
			}
			return out
		},
	}}

	return s, nil
}

func (s *PostgresStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, nil)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *PostgresStore) CreateAccount(account *models.Account) error {
	err := s.DB.QueryRow(`
		INSERT INTO accounts (username, email, password, role, student_id, instructor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING account_id
	`,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Role,
		account.StudentID,
		account.InstructorID,
	).Scan(&account.ID)
	if isUniqueViolation(err) {
		return store.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateStudent(student *models.Student) error {
	err := s.DB.QueryRow(`
		INSERT INTO students (full_name, date_of_birth, gender, address, email, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING student_id
	`,
		student.FullName,
		student.DateOfBirth,
		student.Gender,
		student.Address,
		student.Email,
		student.AvatarURL,
	).Scan(&student.ID)
	if err != nil {
		return fmt.Errorf("failed to create student: %w", err)
	}
	return nil
}

// ListStudentSummaries aggregates per student: grade averages over grade
// rows only, deduplicated subject list, and payment totals, so the class
// and subject joins cannot fan the averages out. A student with several
// class enrollments is shown against the lowest class id.
func (s *PostgresStore) ListStudentSummaries() ([]models.StudentSummary, error) {
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
                string_agg(DISTINCT sub.subject_name, ',') AS subjects,
                MIN(i.instructor_name) AS instructor_name
            FROM class_subjects cs
            JOIN subjects sub ON sub.subject_id = cs.subject_id
            LEFT JOIN instructors i ON i.instructor_id = cs.instructor_id
            GROUP BY cs.class_id
        ),
        grade_stats AS (
            SELECT
                student_id,
                ROUND(AVG(process_score)::numeric, 1)::float8 AS avg_process_score,
                ROUND(AVG(midterm_score)::numeric, 1)::float8 AS avg_midterm_score,
                ROUND(AVG(final_score)::numeric, 1)::float8 AS avg_final_score
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
