package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	"github.com/noah-isme/course-registration-api/pkg/export"
	"github.com/noah-isme/course-registration-api/pkg/logger"
)

// DefaultSessionCapacity applies when a session is created without one.
const DefaultSessionCapacity = 20

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Session, error)
	UpdateInstructors(ctx context.Context, id string, instructors models.Instructors) error
	ListIDs(ctx context.Context) ([]string, error)
}

type rosterReader interface {
	ListRoster(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error)
}

// CreateSessionRequest describes a new session of a course.
type CreateSessionRequest struct {
	CourseID    string                `json:"course_id" validate:"required"`
	Capacity    int                   `json:"capacity" validate:"omitempty,min=1"`
	Instructors []models.Instructor   `json:"instructors" validate:"omitempty,dive"`
	Schedule    []models.ScheduleSlot `json:"schedule" validate:"omitempty,dive"`
}

// AssignInstructorsRequest replaces the ordered instructor list of a session.
type AssignInstructorsRequest struct {
	Instructors []models.Instructor `json:"instructors" validate:"required,dive"`
}

// RosterExport is a rendered roster document.
type RosterExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// SessionService manages sessions, their capacity counters and rosters.
type SessionService struct {
	repo      sessionRepository
	roster    rosterReader
	tx        *txRunner
	metrics   registrationMetrics
	validator *validator.Validate
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSessionService constructs SessionService.
func NewSessionService(repo sessionRepository, roster rosterReader, store registrationStore, policy TxPolicy, metrics registrationMetrics, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:      repo,
		roster:    roster,
		tx:        newTxRunner(store, policy, metrics, logger),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// Create opens a session for an existing course with an empty counter.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	if req.Capacity < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "capacity must be at least 1")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if req.Capacity == 0 {
		req.Capacity = DefaultSessionCapacity
	}

	err := s.tx.run(ctx, OpCreateSession, func(tx repository.RegistrationTx) error {
		_, err := tx.GetCourse(ctx, req.CourseID)
		return notFoundOrNil(err, "course")
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.Session{
		ID:          uuid.NewString(),
		CourseID:    req.CourseID,
		Capacity:    req.Capacity,
		Instructors: models.Instructors(req.Instructors),
		Schedule:    models.Schedule(req.Schedule),
		CreatedAt:   now,
		UpdatedAt:   &now,
	}
	if session.Instructors == nil {
		session.Instructors = models.Instructors{}
	}
	if session.Schedule == nil {
		session.Schedule = models.Schedule{}
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, translateTxError(fmt.Errorf("create session: %w", err), OpCreateSession)
	}
	s.logger.Info("session created", zap.String("session_id", session.ID), zap.String("course_id", session.CourseID), zap.Int("capacity", session.Capacity))
	return session, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_id is required")
	}
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("session")
		}
		return nil, translateTxError(fmt.Errorf("load session: %w", err), "get_session")
	}
	return session, nil
}

// ListByCourse returns the sessions of a course, optionally only those with a free seat.
func (s *SessionService) ListByCourse(ctx context.Context, courseID string, availableOnly bool) ([]models.Session, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required")
	}
	sessions, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, translateTxError(fmt.Errorf("list sessions: %w", err), "list_sessions")
	}
	if !availableOnly {
		return sessions, nil
	}
	open := make([]models.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.HasCapacity() {
			open = append(open, session)
		}
	}
	return open, nil
}

// Capacity reports seat usage of a session from its cached counter.
func (s *SessionService) Capacity(ctx context.Context, id string) (*models.SessionCapacity, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SessionCapacity{
		SessionID:   session.ID,
		HasCapacity: session.HasCapacity(),
		Current:     session.NumStudents,
		Capacity:    session.Capacity,
	}, nil
}

// AssignInstructors replaces the instructor list of a session.
func (s *SessionService) AssignInstructors(ctx context.Context, id string, req AssignInstructorsRequest) (*models.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
	}
	if err := s.repo.UpdateInstructors(ctx, id, models.Instructors(req.Instructors)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("session")
		}
		return nil, translateTxError(fmt.Errorf("update instructors: %w", err), "assign_instructors")
	}
	return s.Get(ctx, id)
}

// Instructors lists the instructors of a session in assignment order.
func (s *SessionService) Instructors(ctx context.Context, id string) ([]models.Instructor, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Instructors == nil {
		return []models.Instructor{}, nil
	}
	return session.Instructors, nil
}

// ReconcileSessionCount recomputes the cached counter of a session from its
// pending and confirmed enrollments and returns the recomputed value. Nothing
// is written when the counter is already correct.
func (s *SessionService) ReconcileSessionCount(ctx context.Context, sessionID string) (int, error) {
	count, _, err := s.reconcile(ctx, sessionID)
	return count, err
}

func (s *SessionService) reconcile(ctx context.Context, sessionID string) (count, previous int, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.ReconcileSessionCount")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, appErrors.FromError(err).Code)
		}
		span.End()
	}()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "session_id is required")
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	err = s.tx.run(ctx, OpReconcileSession, func(tx repository.RegistrationTx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return notFoundOr(err, "session")
		}
		active, err := tx.CountActiveEnrollments(ctx, sessionID)
		if err != nil {
			return err
		}
		previous, count = session.NumStudents, active
		if active == session.NumStudents {
			return nil
		}
		return tx.SetSessionNumStudents(ctx, sessionID, active)
	})
	if err != nil {
		return 0, 0, err
	}

	if previous != count {
		logger.FromContext(ctx, s.logger).Warn("session counter drift corrected",
			zap.String("session_id", sessionID),
			zap.Int("previous", previous),
			zap.Int("recomputed", count))
		if s.metrics != nil {
			s.metrics.RecordCounterDrift(sessionID, count-previous)
		}
	}
	return count, previous, nil
}

// ReconcileAll repairs every session and returns how many counters changed.
// It keeps going past individual failures and returns the first one.
func (s *SessionService) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.SessionIDs(ctx)
	if err != nil {
		return 0, err
	}
	var firstErr error
	corrected := 0
	for _, id := range ids {
		count, previous, err := s.reconcile(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if count != previous {
			corrected++
		}
	}
	return corrected, firstErr
}

// SessionIDs lists every session id.
func (s *SessionService) SessionIDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, translateTxError(fmt.Errorf("list session ids: %w", err), "list_sessions")
	}
	return ids, nil
}

// ExportRoster renders the active enrollments of a session as csv or pdf.
func (s *SessionService) ExportRoster(ctx context.Context, sessionID, format string) (*RosterExport, error) {
	renderer, err := export.ForFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported roster format")
	}
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roster, err := s.roster.ListRoster(ctx, session.ID)
	if err != nil {
		return nil, translateTxError(fmt.Errorf("load roster: %w", err), "export_roster")
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("Session %s roster (%d/%d)", session.ID, len(roster), session.Capacity),
		Headers: []string{"Enrollment", "Student", "Parent", "Status", "Payment", "Enrolled At"},
	}
	for _, row := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Enrollment":  row.ID,
			"Student":     row.StudentName,
			"Parent":      row.ParentName,
			"Status":      string(row.Status),
			"Payment":     string(row.PaymentStatus),
			"Enrolled At": row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	body, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return &RosterExport{
		Filename:    fmt.Sprintf("session-%s-roster.%s", session.ID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func notFoundOrNil(err error, entity string) error {
	if err == nil {
		return nil
	}
	return notFoundOr(err, entity)
}
