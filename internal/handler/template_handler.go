package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// TemplateHandler manages reusable appointment templates.
type TemplateHandler struct {
	service *service.TemplateService
}

// NewTemplateHandler constructs handler.
func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{service: svc}
}

// List godoc
// @Summary List templates
// @Tags Templates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.service.List(c.Request.Context(), tenantFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Get godoc
// @Summary Get template
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /templates/{id} [get]
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.service.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// Create godoc
// @Summary Create template
// @Tags Templates
// @Accept json
// @Produce json
// @Param payload body service.CreateTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /templates [post]
func (h *TemplateHandler) Create(c *gin.Context) {
	var req service.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	tpl, err := h.service.Create(c.Request.Context(), tenantFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tpl)
}
