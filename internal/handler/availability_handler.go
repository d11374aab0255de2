package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// AvailabilityHandler exposes free-slot lookups.
type AvailabilityHandler struct {
	service *service.AvailabilityService
}

// NewAvailabilityHandler constructs handler.
func NewAvailabilityHandler(svc *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Get godoc
// @Summary Free slots for a resource or team over a window
// @Tags Availability
// @Produce json
// @Param resourceId query string false "Resource ID (exactly one of resourceId/teamId)"
// @Param teamId query string false "Team ID (exactly one of resourceId/teamId)"
// @Param from query string true "Window start (RFC3339)"
// @Param to query string true "Window end (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /availability [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339"))
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339"))
		return
	}

	result, err := h.service.GetAvailability(c.Request.Context(), service.AvailabilityQuery{
		TenantID:   tenantFromContext(c),
		ResourceID: c.Query("resourceId"),
		TeamID:     c.Query("teamId"),
		From:       from,
		To:         to,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
