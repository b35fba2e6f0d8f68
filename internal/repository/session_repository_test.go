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

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("ses-1", "crs-1", 20, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.Session{ID: "ses-1", CourseID: "crs-1", Capacity: 20, CreatedAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	rows := sqlmock.NewRows(sessionRowColumns).
		AddRow("ses-1", "crs-1", 10, 4, []byte(`[]`), []byte(`[{"day":"Mon","timeslot":"09:00-11:00"}]`), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE course_id = $1")).
		WithArgs("crs-1").
		WillReturnRows(rows)

	sessions, err := repo.ListByCourse(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Mon", sessions[0].Schedule[0].Day)
}

func TestSessionRepositoryUpdateInstructorsMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET instructors = $2")).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateInstructors(context.Background(), "missing", models.Instructors{{ID: "t1", Role: "lead"}})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRepositoryListIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM sessions ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ses-1").AddRow("ses-2"))

	ids, err := repo.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ses-1", "ses-2"}, ids)
}
