package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/lock"
	"github.com/noah-isme/course-registration-api/pkg/logger"
)

const tracerName = "github.com/noah-isme/course-registration-api/internal/service"

// Operation labels used for logs and metrics.
const (
	OpCreateEnrollment = "create_enrollment"
	OpCancelEnrollment = "cancel_enrollment"
	OpCheckEligibility = "check_eligibility"
	OpReconcileSession = "reconcile_session"
	OpCreateSession    = "create_session"
)

type enrollmentReader interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

// sessionLocker serialises creates per session across processes.
type sessionLocker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// CreateEnrollmentRequest describes an enrollment attempt.
type CreateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
}

func (r *CreateEnrollmentRequest) normalise() {
	r.StudentID = strings.TrimSpace(r.StudentID)
	r.CourseID = strings.TrimSpace(r.CourseID)
	r.SessionID = strings.TrimSpace(r.SessionID)
}

// CreateEnrollmentResult carries the id of the new enrollment.
type CreateEnrollmentResult struct {
	EnrollmentID string `json:"enrollment_id"`
}

// EnrollmentOption customises EnrollmentService.
type EnrollmentOption func(*EnrollmentService)

// WithTxPolicy overrides the retry policy.
func WithTxPolicy(policy TxPolicy) EnrollmentOption {
	return func(s *EnrollmentService) { s.policy = policy }
}

// WithSessionLocker guards creates with a per-session distributed lock.
func WithSessionLocker(locker sessionLocker) EnrollmentOption {
	return func(s *EnrollmentService) { s.locker = locker }
}

// WithMetrics records outcomes and attempt counts.
func WithMetrics(metrics registrationMetrics) EnrollmentOption {
	return func(s *EnrollmentService) { s.metrics = metrics }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) EnrollmentOption {
	return func(s *EnrollmentService) { s.now = now }
}

// EnrollmentService orchestrates enrollment workflows on top of the
// registration store. Every mutation is one atomic unit that either commits
// the enrollment together with the session counter or leaves both untouched.
type EnrollmentService struct {
	store     registrationStore
	reader    enrollmentReader
	locker    sessionLocker
	metrics   registrationMetrics
	policy    TxPolicy
	tx        *txRunner
	validator *validator.Validate
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(store registrationStore, reader enrollmentReader, validate *validator.Validate, logger *zap.Logger, opts ...EnrollmentOption) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EnrollmentService{
		store:     store,
		reader:    reader,
		policy:    DefaultTxPolicy(),
		validator: validate,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tx = newTxRunner(store, s.policy, s.metrics, logger)
	return s
}

// CreateEnrollment registers a student into a session when the session exists,
// the student is not already enrolled and a seat is left. The enrollment
// insert and the session counter increment commit together.
func (s *EnrollmentService) CreateEnrollment(ctx context.Context, req CreateEnrollmentRequest) (result *CreateEnrollmentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "EnrollmentService.CreateEnrollment")
	defer func() { s.finish(ctx, span, OpCreateEnrollment, err) }()

	req.normalise()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "student_id, course_id and session_id are required")
	}
	span.SetAttributes(
		attribute.String("enrollment.student_id", req.StudentID),
		attribute.String("enrollment.session_id", req.SessionID),
	)

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, appErrors.Wrap(err, appErrors.ErrResourceExhausted.Code, appErrors.ErrResourceExhausted.Status, "session is busy, retry later")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "session lock unavailable")
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.logger.Warn("failed to release session lock", zap.String("session_id", req.SessionID), zap.Error(err))
			}
		}()
	}

	var created models.Enrollment
	err = s.tx.run(ctx, OpCreateEnrollment, func(tx repository.RegistrationTx) error {
		session, err := tx.GetSession(ctx, req.SessionID)
		if err != nil {
			return notFoundOr(err, "session")
		}
		student, err := tx.GetStudent(ctx, req.StudentID)
		if err != nil {
			return notFoundOr(err, "student")
		}
		course, err := tx.GetCourse(ctx, req.CourseID)
		if err != nil {
			return notFoundOr(err, "course")
		}
		existing, err := tx.FindOpenEnrollment(ctx, req.StudentID, req.SessionID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		if !session.HasCapacity() {
			return appErrors.Clone(appErrors.ErrSessionFull, "")
		}

		now := s.now().UTC()
		created = models.Enrollment{
			ID:            uuid.NewString(),
			StudentID:     student.ID,
			SessionID:     session.ID,
			CourseID:      course.ID,
			ParentID:      student.ParentID,
			Status:        models.EnrollmentStatusPending,
			PaymentStatus: models.PaymentStatusUnpaid,
			Amount:        course.Price,
			TotalAmount:   course.Price,
			CreatedAt:     now,
			UpdatedAt:     &now,
		}
		if err := tx.CreateEnrollment(ctx, &created); err != nil {
			return err
		}
		return tx.SetSessionNumStudents(ctx, session.ID, session.NumStudents+1)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("enrollment created",
		zap.String("enrollment_id", created.ID),
		zap.String("student_id", created.StudentID),
		zap.String("session_id", created.SessionID))
	return &CreateEnrollmentResult{EnrollmentID: created.ID}, nil
}

// CancelEnrollment marks an enrollment cancelled and releases its seat. A
// second cancel fails with ALREADY_CANCELLED and never decrements twice.
func (s *EnrollmentService) CancelEnrollment(ctx context.Context, enrollmentID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "EnrollmentService.CancelEnrollment")
	defer func() { s.finish(ctx, span, OpCancelEnrollment, err) }()

	enrollmentID = strings.TrimSpace(enrollmentID)
	if enrollmentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment_id is required")
	}
	span.SetAttributes(attribute.String("enrollment.id", enrollmentID))

	var sessionID string
	err = s.tx.run(ctx, OpCancelEnrollment, func(tx repository.RegistrationTx) error {
		enrollment, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return notFoundOr(err, "enrollment")
		}
		if enrollment.Status == models.EnrollmentStatusCancelled {
			return appErrors.Clone(appErrors.ErrAlreadyCancelled, "")
		}
		// A deleted session holds no seat to release; the enrollment is still cancelled.
		session, err := tx.GetSession(ctx, enrollment.SessionID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := tx.UpdateEnrollmentStatus(ctx, enrollment.ID, models.EnrollmentStatusCancelled, s.now().UTC()); err != nil {
			return err
		}
		sessionID = enrollment.SessionID
		if session == nil {
			return nil
		}
		next := session.NumStudents - 1
		if next < 0 {
			next = 0
		}
		return tx.SetSessionNumStudents(ctx, session.ID, next)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.logger).Info("enrollment cancelled", zap.String("enrollment_id", enrollmentID), zap.String("session_id", sessionID))
	return nil
}

// Get returns one enrollment with joined names.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.reader.FindDetailByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("enrollment")
		}
		return nil, translateTxError(fmt.Errorf("load enrollment: %w", err), "get_enrollment")
	}
	return detail, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Active() && filter.Status != models.EnrollmentStatusCancelled {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}
	enrollments, total, err := s.reader.List(ctx, filter)
	if err != nil {
		return nil, nil, translateTxError(fmt.Errorf("list enrollments: %w", err), "list_enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// CheckEligibility reports whether a student may enroll in a course.
func (s *EnrollmentService) CheckEligibility(ctx context.Context, studentID, courseID string) (result *models.Eligibility, err error) {
	ctx, span := s.tracer.Start(ctx, "EnrollmentService.CheckEligibility")
	defer func() { s.finish(ctx, span, OpCheckEligibility, err) }()

	studentID, courseID = strings.TrimSpace(studentID), strings.TrimSpace(courseID)
	if studentID == "" || courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id and course_id are required")
	}

	result = &models.Eligibility{StudentID: studentID, CourseID: courseID}
	err = s.tx.run(ctx, OpCheckEligibility, func(tx repository.RegistrationTx) error {
		student, err := tx.GetStudent(ctx, studentID)
		if err != nil {
			return notFoundOr(err, "student")
		}
		if _, err := tx.GetCourse(ctx, courseID); err != nil {
			return notFoundOr(err, "course")
		}
		if !student.Active {
			result.Eligible, result.Reason = false, "student inactive"
			return nil
		}
		result.Eligible, result.Reason = true, "met requirements"
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *EnrollmentService) finish(ctx context.Context, span trace.Span, operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordEnrollmentOutcome(operation, outcomeLabel(err))
	}
	if err != nil {
		appErr := appErrors.FromError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, appErr.Code)
		if appErr.Status >= http.StatusInternalServerError || appErr.Status == http.StatusTooManyRequests {
			logger.FromContext(ctx, s.logger).Warn("enrollment operation failed", zap.String("operation", operation), zap.String("code", appErr.Code), zap.Error(err))
		}
	}
	span.End()
}

// notFoundOr maps a missing row to NOT_FOUND for entity and passes every
// other error through for retry classification.
func notFoundOr(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NotFound(entity)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}
