package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// AnalyticsHandler manages rollup snapshots and exports.
type AnalyticsHandler struct {
	service *service.AnalyticsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(svc *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: svc}
}

type aggregateRequest struct {
	PeriodStart time.Time                   `json:"period_start" binding:"required"`
	Granularity models.AnalyticsGranularity `json:"granularity" binding:"required"`
}

// Aggregate godoc
// @Summary Build an analytics snapshot on demand
// @Tags Analytics
// @Accept json
// @Produce json
// @Param payload body aggregateRequest true "Aggregation payload"
// @Success 201 {object} response.Envelope
// @Router /analytics/aggregate [post]
func (h *AnalyticsHandler) Aggregate(c *gin.Context) {
	var req aggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	snapshot, err := h.service.Aggregate(c.Request.Context(), tenantFromContext(c), req.PeriodStart, req.Granularity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, snapshot)
}

// List godoc
// @Summary List analytics snapshots
// @Tags Analytics
// @Produce json
// @Param granularity query string false "Filter by granularity"
// @Param from query string false "Period start lower bound (RFC3339)"
// @Param to query string false "Period start upper bound (RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /analytics [get]
func (h *AnalyticsHandler) List(c *gin.Context) {
	var filter models.AnalyticsFilter
	filter.TenantID = tenantFromContext(c)
	filter.Granularity = models.AnalyticsGranularity(c.Query("granularity"))
	filter.From = timeQuery(c, "from")
	filter.To = timeQuery(c, "to")
	filter.Page, filter.PageSize = pageParams(c)

	snapshots, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshots, &models.Pagination{
		Page: filter.Page, PageSize: filter.PageSize, TotalCount: total,
	})
}

// Get godoc
// @Summary Get analytics snapshot
// @Tags Analytics
// @Produce json
// @Param id path string true "Snapshot ID"
// @Success 200 {object} response.Envelope
// @Router /analytics/{id} [get]
func (h *AnalyticsHandler) Get(c *gin.Context) {
	snapshot, err := h.service.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Export godoc
// @Summary Render a snapshot as CSV or PDF and return a signed download link
// @Tags Analytics
// @Produce json
// @Param id path string true "Snapshot ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Router /analytics/{id}/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	result, err := h.service.Export(c.Request.Context(), tenantFromContext(c), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download serves a previously signed export. The token itself authorizes
// the download, so this route sits outside the JWT group.
func (h *AnalyticsHandler) Download(c *gin.Context) {
	file, err := h.service.OpenExport(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "failed to stat export file"))
		return
	}
	c.FileAttachment(file.Name(), info.Name())
}
