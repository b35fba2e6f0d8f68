package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-registration-api/internal/models"
)

var (
	// ErrTxConflict marks a transaction that lost a serialization race. The
	// whole unit of work may be retried from the start.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrUnavailable marks a store that could not be reached or shut the
	// connection mid-transaction.
	ErrUnavailable = errors.New("store unavailable")
)

// RegistrationTx is the set of reads and writes the enrollment workflows
// compose inside one atomic unit. Lookups of missing rows return sql.ErrNoRows.
type RegistrationTx interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	// FindOpenEnrollment returns the non-cancelled enrollment of a student in a
	// session, or nil when there is none.
	FindOpenEnrollment(ctx context.Context, studentID, sessionID string) (*models.Enrollment, error)
	CountActiveEnrollments(ctx context.Context, sessionID string) (int, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, updatedAt time.Time) error
	SetSessionNumStudents(ctx context.Context, sessionID string, numStudents int) error
}

// RegistrationRepository runs registration units of work on PostgreSQL.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// RunInTx executes fn inside a SERIALIZABLE transaction. Any error from fn
// rolls back. Serialization failures come back wrapping ErrTxConflict;
// connection failures and cancelled statements (57014) wrap ErrUnavailable.
// fn's own errors pass through.
func (r *RegistrationRepository) RunInTx(ctx context.Context, fn func(RegistrationTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classifyTxError(fmt.Errorf("begin registration transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlRegistrationTx{tx: tx}); err != nil {
		return classifyTxError(err)
	}
	if err = tx.Commit(); err != nil {
		return classifyTxError(fmt.Errorf("commit registration transaction: %w", err))
	}
	return nil
}

func classifyTxError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		case strings.HasPrefix(string(pqErr.Code), "08"), pqErr.Code == "57P01", pqErr.Code == "57P03",
			pqErr.Code == "57014":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type sqlRegistrationTx struct {
	tx *sqlx.Tx
}

const sessionColumns = `id, course_id, capacity, num_students, instructors, schedule, created_at, updated_at`

const enrollmentColumns = `id, student_id, session_id, course_id, parent_id, status, payment_status, amount, total_amount, created_at, updated_at`

func (t *sqlRegistrationTx) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	var session models.Session
	if err := t.tx.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

func (t *sqlRegistrationTx) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, parent_id, full_name, date_of_birth, medical_note, active FROM students WHERE id = $1`
	var student models.Student
	if err := t.tx.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

func (t *sqlRegistrationTx) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, category, description, COALESCE(price, 0) AS price, level FROM courses WHERE id = $1`
	var course models.Course
	if err := t.tx.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

func (t *sqlRegistrationTx) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (t *sqlRegistrationTx) FindOpenEnrollment(ctx context.Context, studentID, sessionID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND session_id = $2 AND status <> $3 LIMIT 1`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, studentID, sessionID, models.EnrollmentStatusCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open enrollment: %w", err)
	}
	return &enrollment, nil
}

func (t *sqlRegistrationTx) CountActiveEnrollments(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE session_id = $1 AND status IN ($2, $3)`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, sessionID, models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

func (t *sqlRegistrationTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `INSERT INTO enrollments (id, student_id, session_id, course_id, parent_id, status, payment_status, amount, total_amount, created_at, updated_at)
        VALUES (:id, :student_id, :session_id, :course_id, :parent_id, :status, :payment_status, :amount, :total_amount, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (t *sqlRegistrationTx) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, updatedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, id, status, updatedAt); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

func (t *sqlRegistrationTx) SetSessionNumStudents(ctx context.Context, sessionID string, numStudents int) error {
	const query = `UPDATE sessions SET num_students = $2, updated_at = $3 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, sessionID, numStudents, time.Now().UTC()); err != nil {
		return fmt.Errorf("update session student count: %w", err)
	}
	return nil
}
