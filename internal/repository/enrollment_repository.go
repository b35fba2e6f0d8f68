package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-registration-api/internal/models"
)

// EnrollmentRepository serves the read side of enrollments, joined with
// parent, student and course names.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentDetailSelect = `SELECT e.id, e.student_id, e.session_id, e.course_id, e.parent_id, e.status, e.payment_status,
        e.amount, e.total_amount, e.created_at, e.updated_at,
        COALESCE(p.full_name, '') AS parent_name, COALESCE(s.full_name, '') AS student_name, COALESCE(c.title, '') AS course_title`

const enrollmentDetailFrom = `FROM enrollments e
LEFT JOIN users p ON p.id = e.parent_id
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`

// List returns enrollments filtered by the provided criteria, newest first.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("e.student_id", filter.StudentID)
	add("e.session_id", filter.SessionID)
	add("e.course_id", filter.CourseID)
	add("e.parent_id", filter.ParentID)
	add("e.status", string(filter.Status))

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s\n%s%s ORDER BY e.created_at DESC LIMIT %d OFFSET %d", enrollmentDetailSelect, enrollmentDetailFrom, clause, size, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments e" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindDetailByID returns an enrollment with contextual names.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + "\n" + enrollmentDetailFrom + " WHERE e.id = $1"
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListRoster returns the seat-holding enrollments of a session ordered by student name.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + "\n" + enrollmentDetailFrom +
		" WHERE e.session_id = $1 AND e.status IN ($2, $3) ORDER BY student_name ASC, e.created_at ASC"
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, sessionID, models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed); err != nil {
		return nil, fmt.Errorf("list session roster: %w", err)
	}
	return roster, nil
}
