package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// RuleHandler manages scheduling rule administration and dry-run evaluation.
type RuleHandler struct {
	service *service.RuleService
}

// NewRuleHandler constructs handler.
func NewRuleHandler(svc *service.RuleService) *RuleHandler {
	return &RuleHandler{service: svc}
}

// List godoc
// @Summary List scheduling rules
// @Tags Rules
// @Produce json
// @Param kind query string false "Filter by kind"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	var filter models.RuleFilter
	filter.TenantID = tenantFromContext(c)
	filter.Kind = models.RuleKind(c.Query("kind"))
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	filter.Page, filter.PageSize = pageParams(c)

	rules, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, &models.Pagination{
		Page: filter.Page, PageSize: filter.PageSize, TotalCount: total,
	})
}

// Get godoc
// @Summary Get rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} response.Envelope
// @Router /rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.service.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Create godoc
// @Summary Create rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body service.CreateRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.service.Create(c.Request.Context(), tenantFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Update godoc
// @Summary Update rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body service.CreateRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.service.Update(c.Request.Context(), tenantFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Deactivate godoc
// @Summary Deactivate rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 204
// @Router /rules/{id} [delete]
func (h *RuleHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), tenantFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Evaluate godoc
// @Summary Dry-run rule evaluation against a candidate appointment
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body service.EvaluateRequest true "Candidate payload"
// @Success 200 {object} response.Envelope
// @Router /rules/evaluate [post]
func (h *RuleHandler) Evaluate(c *gin.Context) {
	var req service.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Evaluate(c.Request.Context(), tenantFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
