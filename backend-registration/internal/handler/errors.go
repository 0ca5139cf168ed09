package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/middleware"
	"github.com/prohmpiriya/campus-registration/pkg/response"
	"go.uber.org/zap"
)

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		response.Fail(c, http.StatusNotFound, "EVENT_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrRegistrationNotFound):
		response.Fail(c, http.StatusNotFound, "REGISTRATION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrEventEnded):
		response.Fail(c, http.StatusConflict, "EVENT_ENDED", err.Error())
	case errors.Is(err, domain.ErrTooLate):
		response.Fail(c, http.StatusConflict, "TOO_LATE", err.Error())
	case errors.Is(err, domain.ErrAlreadyRegistered):
		response.Fail(c, http.StatusConflict, "ALREADY_REGISTERED", err.Error())
	case errors.Is(err, domain.ErrEventAlreadyExists):
		response.Fail(c, http.StatusConflict, "EVENT_EXISTS", err.Error())
	case errors.Is(err, domain.ErrNotAdmitted):
		response.Fail(c, http.StatusConflict, "NOT_ADMITTED", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrLockNotAcquired):
		c.Header("Retry-After", "1")
		response.Fail(c, http.StatusServiceUnavailable, "BUSY", "event is busy, please retry")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(c, err.Error())
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	default:
		logger.Get().ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		response.InternalError(c)
	}
}

// RouteNotFound answers requests that match no route
func RouteNotFound(c *gin.Context) {
	response.NotFound(c, "no route for "+c.Request.Method+" "+c.Request.URL.Path)
}

// actorFrom builds the caller identity set by the auth middleware
func actorFrom(c *gin.Context) (domain.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return domain.Actor{}, false
	}
	role, _ := middleware.GetUserRole(c)
	return domain.Actor{UserID: userID, Role: role}, true
}
