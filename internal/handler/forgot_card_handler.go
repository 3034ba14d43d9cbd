package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/service"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
	"github.com/vie-scolaire/carte-api/pkg/response"
)

type forgotCardService interface {
	Record(ctx context.Context, req service.RecordRequest) (*models.RecordResult, error)
	List(ctx context.Context, req service.ListRequest) (*service.ForgotCardList, error)
	Get(ctx context.Context, id string) (*models.ForgotCardView, error)
	WeekCount(ctx context.Context, studentID string) (*models.WeeklyCount, error)
	Delete(ctx context.Context, id, actorID, ip, userAgent string) error
}

type noteService interface {
	RequiringNote(ctx context.Context, week, year int) (*models.NoteRequirementList, error)
	Mark(ctx context.Context, req service.NoteMarkRequest) (*models.MarkNoteResult, error)
	Unmark(ctx context.Context, req service.NoteMarkRequest) (*models.MarkNoteResult, error)
}

// ForgotCardHandler exposes forgotten-card events and the carnet note flow.
type ForgotCardHandler struct {
	events forgotCardService
	notes  noteService
}

// NewForgotCardHandler constructs the handler.
func NewForgotCardHandler(events forgotCardService, notes noteService) *ForgotCardHandler {
	return &ForgotCardHandler{events: events, notes: notes}
}

// Create godoc
// @Summary Record a forgotten card
// @Description Record a new forgotten-card event for the current instant
// @Tags ForgotCards
// @Accept json
// @Produce json
// @Param payload body service.RecordRequest true "Event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards [post]
func (h *ForgotCardHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}
	req.RecordedBy = claims.UserID
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	result, err := h.events.Record(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// List godoc
// @Summary List forgotten-card events
// @Tags ForgotCards
// @Produce json
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param period query string false "Period (today|week|month|year)"
// @Param start_date query string false "Start date (RFC 3339)"
// @Param end_date query string false "End date (RFC 3339)"
// @Param note_added query bool false "Note flag filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /forgot-cards [get]
func (h *ForgotCardHandler) List(c *gin.Context) {
	req := service.ListRequest{
		StudentID: c.Query("student_id"),
		ClassID:   c.Query("class_id"),
		Period:    c.Query("period"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
	}
	if raw := c.Query("start_date"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid start_date"))
			return
		}
		req.StartDate = &ts
	}
	if raw := c.Query("end_date"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid end_date"))
			return
		}
		req.EndDate = &ts
	}
	if raw := c.Query("note_added"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid note_added"))
			return
		}
		req.NoteManuallyAdded = &value
	}

	list, err := h.events.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"events":                list.Events,
		"positions_approximate": list.Approximate,
	}, &list.Pagination)
}

// Get godoc
// @Summary Get one forgotten-card event
// @Tags ForgotCards
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards/{id} [get]
func (h *ForgotCardHandler) Get(c *gin.Context) {
	view, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Delete godoc
// @Summary Delete a forgotten-card event
// @Description Administrative correction of a wrongly recorded event
// @Tags ForgotCards
// @Produce json
// @Param id path string true "Event ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards/{id} [delete]
func (h *ForgotCardHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.events.Delete(c.Request.Context(), c.Param("id"), claims.UserID, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// WeekCount godoc
// @Summary Weekly counter for a student
// @Tags ForgotCards
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards/week/{studentId} [get]
func (h *ForgotCardHandler) WeekCount(c *gin.Context) {
	count, err := h.events.WeekCount(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, count, nil)
}

// RequiringNote godoc
// @Summary Students requiring a carnet note
// @Description List the (student, week) groups that reached the alert threshold
// @Tags Notes
// @Produce json
// @Param week query int false "ISO week number (defaults to current)"
// @Param year query int false "ISO week year (defaults to current)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forgot-cards/requiring-note [get]
func (h *ForgotCardHandler) RequiringNote(c *gin.Context) {
	week := queryInt(c, "week", 0)
	year := queryInt(c, "year", 0)

	list, err := h.notes.RequiringNote(c.Request.Context(), week, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// MarkNote godoc
// @Summary Mark a carnet note as added
// @Tags Notes
// @Accept json
// @Produce json
// @Param payload body service.NoteMarkRequest true "Group coordinates"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards/mark-note [post]
func (h *ForgotCardHandler) MarkNote(c *gin.Context) {
	h.setNoteFlag(c, h.notes.Mark)
}

// UnmarkNote godoc
// @Summary Cancel a carnet note marking
// @Tags Notes
// @Accept json
// @Produce json
// @Param payload body service.NoteMarkRequest true "Group coordinates"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forgot-cards/unmark-note [post]
func (h *ForgotCardHandler) UnmarkNote(c *gin.Context) {
	h.setNoteFlag(c, h.notes.Unmark)
}

func (h *ForgotCardHandler) setNoteFlag(c *gin.Context, apply func(context.Context, service.NoteMarkRequest) (*models.MarkNoteResult, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.NoteMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid note payload"))
		return
	}
	req.ActorID = claims.UserID
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	result, err := apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
