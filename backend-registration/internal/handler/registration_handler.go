package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/dto"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/service"
	"github.com/prohmpiriya/campus-registration/pkg/response"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RegistrationHandler handles registration HTTP requests
type RegistrationHandler struct {
	registrationService service.RegistrationService
}

// NewRegistrationHandler creates a new registration handler
func NewRegistrationHandler(registrationService service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{
		registrationService: registrationService,
	}
}

// Register handles POST /events/:eventId/registrations
func (h *RegistrationHandler) Register(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.register")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	eventID := c.Param("eventId")
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	result, err := h.registrationService.RequestRegistration(ctx, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", result.Outcome))
	span.SetStatus(codes.Ok, "")
	response.Created(c, result)
}

// CancelMine handles DELETE /events/:eventId/registrations/me
func (h *RegistrationHandler) CancelMine(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	result, err := h.registrationService.CancelRegistration(ctx, userID, c.Param("eventId"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("promoted", result.Promoted != nil))
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// GetMine handles GET /events/:eventId/registrations/me
func (h *RegistrationHandler) GetMine(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.get_mine")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	result, err := h.registrationService.GetMyRegistration(ctx, userID, c.Param("eventId"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// GetCapacity handles GET /events/:eventId/capacity
func (h *RegistrationHandler) GetCapacity(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.capacity")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	result, err := h.registrationService.GetCapacity(ctx, c.Param("eventId"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// ListWaitlist handles GET /events/:eventId/waitlist
func (h *RegistrationHandler) ListWaitlist(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.waitlist")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, ok := actorFrom(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	result, err := h.registrationService.ListWaitlist(ctx, actor, c.Param("eventId"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("waitlist_total", result.Total))
	span.SetStatus(codes.Ok, "")
	response.SuccessWithMeta(c, result.Entries, &dto.ListMeta{EventID: result.EventID, Total: result.Total})
}

// CancelFor handles DELETE /events/:eventId/registrations/:userId
func (h *RegistrationHandler) CancelFor(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.cancel_for")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, ok := actorFrom(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	userID := c.Param("userId")
	eventID := c.Param("eventId")
	span.SetAttributes(
		attribute.String("actor_id", actor.UserID),
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	result, err := h.registrationService.CancelRegistrationFor(ctx, actor, userID, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// SetAttendance handles PUT /events/:eventId/registrations/:userId/attendance
func (h *RegistrationHandler) SetAttendance(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.registration.attendance")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	actor, ok := actorFrom(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "user identity is required")
		return
	}

	var req dto.SetAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.registrationService.SetAttendance(ctx, actor, c.Param("userId"), c.Param("eventId"), *req.Attended)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}
