package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/service"
	appErrors "github.com/agendaworks/scheduling-engine/pkg/errors"
	"github.com/agendaworks/scheduling-engine/pkg/response"
)

// AppointmentHandler manages appointment lifecycle endpoints.
type AppointmentHandler struct {
	bookings      *service.BookingService
	notifications *service.NotificationService
}

// NewAppointmentHandler constructs handler.
func NewAppointmentHandler(bookings *service.BookingService, notifications *service.NotificationService) *AppointmentHandler {
	return &AppointmentHandler{bookings: bookings, notifications: notifications}
}

// Create godoc
// @Summary Book an appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param payload body service.CreateAppointmentRequest true "Appointment payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /appointments [post]
func (h *AppointmentHandler) Create(c *gin.Context) {
	var req service.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.bookings.Create(c.Request.Context(), tenantFromContext(c), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List appointments
// @Tags Appointments
// @Produce json
// @Param resourceId query string false "Filter by resource"
// @Param teamId query string false "Filter by team"
// @Param userId query string false "Filter by user"
// @Param status query string false "Filter by status"
// @Param from query string false "Window start (RFC3339)"
// @Param to query string false "Window end (RFC3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) List(c *gin.Context) {
	var filter models.AppointmentFilter
	filter.TenantID = tenantFromContext(c)
	filter.ResourceID = c.Query("resourceId")
	filter.TeamID = c.Query("teamId")
	filter.UserID = c.Query("userId")
	filter.Status = models.AppointmentStatus(c.Query("status"))
	filter.From = timeQuery(c, "from")
	filter.To = timeQuery(c, "to")
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	appointments, total, err := h.bookings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointments, &models.Pagination{
		Page: filter.Page, PageSize: filter.PageSize, TotalCount: total,
	})
}

// Get godoc
// @Summary Get appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	appointment, err := h.bookings.Get(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointment, nil)
}

// Update godoc
// @Summary Update appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body service.UpdateAppointmentRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [put]
func (h *AppointmentHandler) Update(c *gin.Context) {
	var req service.UpdateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.bookings.Update(c.Request.Context(), tenantFromContext(c), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Confirm godoc
// @Summary Confirm appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/confirm [post]
func (h *AppointmentHandler) Confirm(c *gin.Context) {
	h.transition(c, h.bookings.Confirm)
}

// Start godoc
// @Summary Start appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/start [post]
func (h *AppointmentHandler) Start(c *gin.Context) {
	h.transition(c, h.bookings.Start)
}

// Complete godoc
// @Summary Complete appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/complete [post]
func (h *AppointmentHandler) Complete(c *gin.Context) {
	h.transition(c, h.bookings.Complete)
}

// NoShow godoc
// @Summary Mark appointment as no-show
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/no-show [post]
func (h *AppointmentHandler) NoShow(c *gin.Context) {
	h.transition(c, h.bookings.NoShow)
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// Cancel godoc
// @Summary Cancel appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body cancelRequest false "Cancellation payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /appointments/{id}/cancel [post]
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	appointment, err := h.bookings.Cancel(c.Request.Context(), tenantFromContext(c), actorFromContext(c), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointment, nil)
}

// Reschedule godoc
// @Summary Reschedule appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Param id path string true "Appointment ID"
// @Param payload body service.RescheduleRequest true "Reschedule payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /appointments/{id}/reschedule [post]
func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	var req service.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.bookings.Reschedule(c.Request.Context(), tenantFromContext(c), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Notifications godoc
// @Summary List notifications raised for an appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id}/notifications [get]
func (h *AppointmentHandler) Notifications(c *gin.Context) {
	notifications, err := h.notifications.ListByAppointment(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}

func (h *AppointmentHandler) transition(c *gin.Context, fn func(ctx context.Context, tenantID, actorID, id string) (*models.Appointment, error)) {
	appointment, err := fn(c.Request.Context(), tenantFromContext(c), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appointment, nil)
}
