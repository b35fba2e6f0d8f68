package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var sessionRowColumns = []string{"id", "course_id", "capacity", "num_students", "instructors", "schedule", "created_at", "updated_at"}

func TestRegistrationRepositoryRunInTxCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := sqlmock.NewRows(sessionRowColumns).
		AddRow("session-1", "course-1", 10, 2, []byte(`[{"id":"t1","role":"lead"}]`), []byte(`[]`), time.Now(), nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("session-1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET num_students = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("session-1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error {
		session, err := tx.GetSession(context.Background(), "session-1")
		if err != nil {
			return err
		}
		assert.Equal(t, models.Instructors{{ID: "t1", Role: "lead"}}, session.Instructors)
		return tx.SetSessionNumStudents(context.Background(), session.ID, session.NumStudents+1)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRunInTxSerializationFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("session-1").
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error {
		_, err := tx.GetSession(context.Background(), "session-1")
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTxConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRunInTxCommitConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01"})

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTxConflict))
}

func TestRegistrationRepositoryRunInTxConnectionFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRegistrationRepositoryRunInTxPassesBusinessErrors(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	boom := errors.New("session is full")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error { return boom })
	assert.Same(t, boom, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationTxFindOpenEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND session_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("student-1", "session-1", models.EnrollmentStatusCancelled).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE session_id = $1 AND status IN ($2, $3)")).
		WithArgs("session-1", models.EnrollmentStatusPending, models.EnrollmentStatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error {
		existing, err := tx.FindOpenEnrollment(context.Background(), "student-1", "session-1")
		require.NoError(t, err)
		assert.Nil(t, existing)

		count, err := tx.CountActiveEnrollments(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationTxCreateAndCancelEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs("enr-1", "student-1", "session-1", "course-1", "parent-1", models.EnrollmentStatusPending, models.PaymentStatusUnpaid, 150.0, 150.0, now, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusCancelled, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx RegistrationTx) error {
		if err := tx.CreateEnrollment(context.Background(), &models.Enrollment{
			ID: "enr-1", StudentID: "student-1", SessionID: "session-1", CourseID: "course-1", ParentID: "parent-1",
			Status: models.EnrollmentStatusPending, PaymentStatus: models.PaymentStatusUnpaid,
			Amount: 150, TotalAmount: 150, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.UpdateEnrollmentStatus(context.Background(), "enr-1", models.EnrollmentStatusCancelled, now)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
