package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/service"
	appErrors "github.com/noah-isme/course-registration-api/pkg/errors"
	"github.com/noah-isme/course-registration-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req service.CreateSessionRequest) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	ListByCourse(ctx context.Context, courseID string, availableOnly bool) ([]models.Session, error)
	Capacity(ctx context.Context, id string) (*models.SessionCapacity, error)
	AssignInstructors(ctx context.Context, id string, req service.AssignInstructorsRequest) (*models.Session, error)
	Instructors(ctx context.Context, id string) ([]models.Instructor, error)
	ReconcileSessionCount(ctx context.Context, sessionID string) (int, error)
	ExportRoster(ctx context.Context, sessionID, format string) (*service.RosterExport, error)
}

// SessionHandler exposes session endpoints.
type SessionHandler struct {
	sessions sessionService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions sessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create godoc
// @Summary Create a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body service.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// ListByCourse godoc
// @Summary List sessions of a course
// @Tags Sessions
// @Produce json
// @Param courseId path string true "Course ID"
// @Param available query bool false "Only sessions with a free seat"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/sessions [get]
func (h *SessionHandler) ListByCourse(c *gin.Context) {
	available, _ := strconv.ParseBool(c.DefaultQuery("available", "false"))
	sessions, err := h.sessions.ListByCourse(c.Request.Context(), c.Param("courseId"), available)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Capacity godoc
// @Summary Seat usage of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/capacity [get]
func (h *SessionHandler) Capacity(c *gin.Context) {
	capacity, err := h.sessions.Capacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, capacity, nil)
}

// AssignInstructors godoc
// @Summary Replace the instructors of a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.AssignInstructorsRequest true "Instructors"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/instructors [put]
func (h *SessionHandler) AssignInstructors(c *gin.Context) {
	var req service.AssignInstructorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.sessions.AssignInstructors(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Instructors godoc
// @Summary List the instructors of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/instructors [get]
func (h *SessionHandler) Instructors(c *gin.Context) {
	instructors, err := h.sessions.Instructors(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instructors, nil)
}

// Reconcile godoc
// @Summary Recompute the student counter of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/reconcile [post]
func (h *SessionHandler) Reconcile(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	count, err := h.sessions.ReconcileSessionCount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"session_id": id, "num_students": count}, nil)
}

// Roster godoc
// @Summary Download the active roster of a session
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /sessions/{id}/roster [get]
func (h *SessionHandler) Roster(c *gin.Context) {
	doc, err := h.sessions.ExportRoster(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}
