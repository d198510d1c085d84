package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upliftworks/enrollment-api/internal/service"
	appErrors "github.com/upliftworks/enrollment-api/pkg/errors"
	"github.com/upliftworks/enrollment-api/pkg/response"
)

// SponsorHandler exposes employer sponsor administration endpoints.
type SponsorHandler struct {
	service *service.SponsorService
}

// NewSponsorHandler creates a new handler.
func NewSponsorHandler(svc *service.SponsorService) *SponsorHandler {
	return &SponsorHandler{service: svc}
}

// List godoc
// @Summary List sponsors
// @Description List all employer sponsors
// @Tags Sponsors
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sponsors [get]
func (h *SponsorHandler) List(c *gin.Context) {
	sponsors, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, sponsors, nil)
}

// Create godoc
// @Summary Create sponsor
// @Description Register a new active employer sponsor
// @Tags Sponsors
// @Accept json
// @Produce json
// @Param payload body service.CreateSponsorRequest true "Sponsor"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sponsors [post]
func (h *SponsorHandler) Create(c *gin.Context) {
	var req service.CreateSponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sponsor payload"))
		return
	}

	sponsor, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, sponsor)
}

// SetActive godoc
// @Summary Activate or deactivate sponsor
// @Description Toggle whether a sponsor can back employer-sponsored enrollments
// @Tags Sponsors
// @Accept json
// @Produce json
// @Param id path string true "Sponsor id"
// @Param payload body object{active=bool} true "Active flag"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sponsors/{id}/active [put]
func (h *SponsorHandler) SetActive(c *gin.Context) {
	var payload struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "active flag required"))
		return
	}

	sponsor, err := h.service.SetActive(c.Request.Context(), c.Param("id"), *payload.Active)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, sponsor, nil)
}
