package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/upliftworks/enrollment-api/internal/models"
	"github.com/upliftworks/enrollment-api/internal/service"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
	"github.com/upliftworks/enrollment-api/pkg/response"
)

// EnrollmentHandler exposes the enrollment workflow endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
	exports *service.ExportService
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(svc *service.EnrollmentService, exports *service.ExportService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, exports: exports}
}

// List godoc
// @Summary List enrollments
// @Description List enrollments with filtering and pagination
// @Tags Enrollments
// @Produce json
// @Param user_id query string false "Filter by learner"
// @Param program_id query string false "Filter by program"
// @Param status query string false "Filter by status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "Sort column"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := h.filterFromQuery(c)

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Detail godoc
// @Summary Get enrollment
// @Description Returns one enrollment with learner and program context
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Detail(c *gin.Context) {
	detail, err := h.service.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Apply godoc
// @Summary Submit application
// @Description Create a pending enrollment for a learner and program
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.ApplyRequest true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Apply(c *gin.Context) {
	var req service.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleLearner {
		req.UserID = claims.UserID
	}

	detail, err := h.service.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, detail)
}

// Confirm godoc
// @Summary Confirm funding pathway
// @Description Apply the pathway-confirmed event once funding settles
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment id"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/{id}/confirm [post]
func (h *EnrollmentHandler) Confirm(c *gin.Context) {
	h.applyByID(c, h.service.Confirm)
}

// Activate godoc
// @Summary Activate enrollment
// @Description Apply the activation event after document review
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment id"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/{id}/activate [post]
func (h *EnrollmentHandler) Activate(c *gin.Context) {
	h.applyByID(c, h.service.Activate)
}

// Withdraw godoc
// @Summary Withdraw enrollment
// @Description Move the enrollment to its terminal withdrawn state
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment id"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/withdraw [post]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	h.applyByID(c, h.service.Withdraw)
}

// OrientationComplete godoc
// @Summary Record orientation completion
// @Description External trigger fired when a learner finishes orientation; safe to re-deliver
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EventRequest true "Event"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/events/orientation [post]
func (h *EnrollmentHandler) OrientationComplete(c *gin.Context) {
	h.applyForUser(c, h.service.OrientationComplete)
}

// DocumentsSubmitted godoc
// @Summary Record document submission
// @Description External trigger fired when required documents arrive; safe to re-deliver
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EventRequest true "Event"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/events/documents [post]
func (h *EnrollmentHandler) DocumentsSubmitted(c *gin.Context) {
	h.applyForUser(c, h.service.DocumentsSubmitted)
}

// Export godoc
// @Summary Export enrollment roster
// @Description Render the enrollment roster as CSV or PDF
// @Tags Enrollments
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Param status query string false "Filter by status"
// @Param program_id query string false "Filter by program"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	filter := h.filterFromQuery(c)

	result, err := h.exports.Render(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

// ExportArchive godoc
// @Summary Archive enrollment roster
// @Description Render and store the roster, returning a signed download token
// @Tags Enrollments
// @Produce json
// @Param format query string false "csv or pdf" default(csv)
// @Param status query string false "Filter by status"
// @Param program_id query string false "Filter by program"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/export/archive [post]
func (h *EnrollmentHandler) ExportArchive(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	filter := h.filterFromQuery(c)

	archived, err := h.exports.Archive(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, archived)
}

// ExportDownload godoc
// @Summary Download archived roster
// @Description Stream a previously archived roster using its signed token
// @Tags Enrollments
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/export/download [get]
func (h *EnrollmentHandler) ExportDownload(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	result, err := h.exports.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func (h *EnrollmentHandler) applyByID(c *gin.Context, apply func(ctx context.Context, id string) (*models.Enrollment, error)) {
	enrollment, err := apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

func (h *EnrollmentHandler) applyForUser(c *gin.Context, apply func(ctx context.Context, req service.EventRequest) (*models.Enrollment, error)) {
	var req service.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}

	enrollment, err := apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

func (h *EnrollmentHandler) filterFromQuery(c *gin.Context) models.EnrollmentFilter {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return models.EnrollmentFilter{
		UserID:    c.Query("user_id"),
		ProgramID: c.Query("program_id"),
		Status:    models.EnrollmentStatus(c.Query("status")),
		Page:      page,
		PageSize:  pageSize,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
}
