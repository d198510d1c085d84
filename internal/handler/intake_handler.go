package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upliftworks/enrollment-api/internal/models"
	"github.com/upliftworks/enrollment-api/internal/service"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
	"github.com/upliftworks/enrollment-api/pkg/response"
)

// IntakeHandler exposes the eligibility screening endpoints.
type IntakeHandler struct {
	service *service.IntakeService
}

// NewIntakeHandler creates a new handler.
func NewIntakeHandler(svc *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{service: svc}
}

// Start godoc
// @Summary Start intake
// @Description Open an eligibility screening for an applicant, or return the open one
// @Tags Intakes
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /intakes [post]
func (h *IntakeHandler) Start(c *gin.Context) {
	applicantID := h.applicantID(c)
	if applicantID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.Start(c.Request.Context(), applicantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, record)
}

// Get godoc
// @Summary Get intake
// @Description Returns the most recent intake for the applicant
// @Tags Intakes
// @Produce json
// @Param applicant_id query string false "Applicant id (staff only; learners see their own)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /intakes [get]
func (h *IntakeHandler) Get(c *gin.Context) {
	applicantID := h.applicantID(c)
	if applicantID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.Get(c.Request.Context(), applicantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// UpdateAnswers godoc
// @Summary Update intake answers
// @Description Record questionnaire answers on an open intake
// @Tags Intakes
// @Accept json
// @Produce json
// @Param id path string true "Intake id"
// @Param payload body service.UpdateIntakeRequest true "Answers"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /intakes/{id} [patch]
func (h *IntakeHandler) UpdateAnswers(c *gin.Context) {
	var req service.UpdateIntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid intake payload"))
		return
	}

	record, err := h.service.UpdateAnswers(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// Complete godoc
// @Summary Complete intake
// @Description Mark the screening as complete; idempotent
// @Tags Intakes
// @Produce json
// @Param id path string true "Intake id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /intakes/{id}/complete [post]
func (h *IntakeHandler) Complete(c *gin.Context) {
	record, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// AssignPathway godoc
// @Summary Assign funding pathway
// @Description Run the funding policy against a completed intake
// @Tags Intakes
// @Produce json
// @Param id path string true "Intake id"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /intakes/{id}/pathway [post]
func (h *IntakeHandler) AssignPathway(c *gin.Context) {
	record, err := h.service.AssignPathway(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// applicantID resolves the applicant the request acts on. Staff and admins
// may target any applicant via query param; learners always act on
// themselves.
func (h *IntakeHandler) applicantID(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil {
		return ""
	}
	if claims.Role == models.RoleAdmin || claims.Role == models.RoleStaff {
		if target := c.Query("applicant_id"); target != "" {
			return target
		}
	}
	return claims.UserID
}
