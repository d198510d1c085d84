package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upliftworks/enrollment-api/internal/service"
	"github.com/upliftworks/enrollment-api/pkg/response"
)

// ProgramHandler exposes the training program catalog.
type ProgramHandler struct {
	service *service.ProgramService
}

// NewProgramHandler creates a new handler.
func NewProgramHandler(svc *service.ProgramService) *ProgramHandler {
	return &ProgramHandler{service: svc}
}

// List godoc
// @Summary List open programs
// @Description Programs currently accepting applications
// @Tags Programs
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	programs, err := h.service.ListOpen(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, programs, nil)
}
