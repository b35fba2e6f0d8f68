package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/internal/models"
)

var enrollmentDetailColumns = []string{"id", "student_id", "session_id", "course_id", "parent_id", "status", "payment_status",
	"amount", "total_amount", "created_at", "updated_at", "parent_name", "student_name", "course_title"}

func TestEnrollmentRepositoryListJoinsNames(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentDetailColumns).
		AddRow("enr-1", "stu-1", "ses-1", "crs-1", "par-1", "pending", "unpaid", 100.0, 100.0, time.Now(), nil, "Grace", "Ada", "Robotics")
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN users p ON p.id = e.parent_id")).
		WithArgs("ses-1", "pending").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments e WHERE e.session_id = $1 AND e.status = $2")).
		WithArgs("ses-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.EnrollmentFilter{SessionID: "ses-1", Status: models.EnrollmentStatusPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Grace", items[0].ParentName)
	assert.Equal(t, "Ada", items[0].StudentName)
	assert.Equal(t, "Robotics", items[0].CourseTitle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindDetailByIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindDetailByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEnrollmentRepositoryListRoster(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentDetailColumns).
		AddRow("enr-1", "stu-1", "ses-1", "crs-1", "par-1", "confirmed", "paid", 100.0, 100.0, time.Now(), nil, "Grace", "Ada", "Robotics")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.session_id = $1 AND e.status IN ($2, $3)")).
		WithArgs("ses-1", models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed).
		WillReturnRows(rows)

	roster, err := repo.ListRoster(context.Background(), "ses-1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, models.EnrollmentStatusConfirmed, roster[0].Status)
}
