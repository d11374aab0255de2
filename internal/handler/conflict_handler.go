package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// ConflictHandler manages conflict listing and resolution endpoints.
type ConflictHandler struct {
	service *service.ConflictService
}

// NewConflictHandler constructs handler.
func NewConflictHandler(svc *service.ConflictService) *ConflictHandler {
	return &ConflictHandler{service: svc}
}

// List godoc
// @Summary List conflicts
// @Tags Conflicts
// @Produce json
// @Param appointmentId query string false "Filter by appointment"
// @Param resourceId query string false "Filter by resource"
// @Param type query string false "Filter by type"
// @Param impact query string false "Filter by impact"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /conflicts [get]
func (h *ConflictHandler) List(c *gin.Context) {
	var filter models.ConflictFilter
	filter.TenantID = tenantFromContext(c)
	filter.AppointmentID = c.Query("appointmentId")
	filter.ResourceID = c.Query("resourceId")
	filter.Type = models.ConflictType(c.Query("type"))
	filter.Impact = models.ConflictImpact(c.Query("impact"))
	filter.Status = models.ConflictStatus(c.Query("status"))
	filter.Page, filter.PageSize = pageParams(c)

	conflicts, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflicts, &models.Pagination{
		Page: filter.Page, PageSize: filter.PageSize, TotalCount: total,
	})
}

// Get godoc
// @Summary Get conflict
// @Tags Conflicts
// @Produce json
// @Param id path string true "Conflict ID"
// @Success 200 {object} response.Envelope
// @Router /conflicts/{id} [get]
func (h *ConflictHandler) Get(c *gin.Context) {
	conflict, err := h.service.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflict, nil)
}

type resolveConflictRequest struct {
	Action models.ResolutionAction `json:"action" binding:"required"`
	Notes  string                  `json:"notes,omitempty"`
}

// Resolve godoc
// @Summary Apply a resolution action to a conflict
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Conflict ID"
// @Param payload body resolveConflictRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /conflicts/{id}/resolve [post]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	conflict, err := h.service.Resolve(c.Request.Context(), tenantFromContext(c), c.Param("id"), req.Action, actorFromContext(c), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conflict, nil)
}
