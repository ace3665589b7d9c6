package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	routeWebSocket          = "/ws"
	routeNotificationStream = "/sse-stream/notification"
	routeSendNotification   = "/sse-stream/send-notification"
	routeMetrics            = "/metrics"

	maxNotificationBody = "64K"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware(routeWebSocket, routeNotificationStream, routeMetrics))
	}
	s.echo.Use(ErrorHandlingMiddleware(s.httpMetrics))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "no-referrer",
	}))

	var connectionGuard []echo.MiddlewareFunc
	if s.limits != nil {
		connectionGuard = append(connectionGuard, s.limits.Middleware(s.httpMetrics))
	}

	s.registerHealthRoutes()

	s.echo.GET(routeWebSocket, echo.WrapHandler(s.websocketHandler), connectionGuard...)
	s.echo.GET(routeNotificationStream, s.handleNotificationStream, connectionGuard...)
	s.echo.POST(routeSendNotification, s.handleSendNotification,
		middleware.BodyLimit(maxNotificationBody),
		newRateLimiter(notificationRate, notificationBurst, s.httpMetrics),
	)

	if s.metricsHandler != nil {
		s.echo.GET(routeMetrics, echo.WrapHandler(s.metricsHandler))
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == routeMetrics
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
