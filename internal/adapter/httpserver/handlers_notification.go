package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/pscheid92/syncpulse/internal/platform/errors"
)

const headerDeliveryOutcome = "X-Delivery-Outcome"

type notificationRequest struct {
	Message *string `json:"message"`
}

func (s *Server) handleSendNotification(c echo.Context) error {
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON object")
	}
	if req.Message == nil {
		return apperrors.ValidationError("message is required").WithContext("field", "message")
	}

	outcome, err := s.notifications.SendNotification(c.Request().Context(), *req.Message)
	if err != nil {
		return apperrors.InternalError("failed to send notification", err)
	}

	c.Response().Header().Set(headerDeliveryOutcome, outcome.String())
	return c.String(http.StatusOK, "Notification sent")
}
