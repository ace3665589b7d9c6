package httpserver

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/syncpulse/internal/domain"
)

func (s *Server) handleNotificationStream(c echo.Context) error {
	ctx := c.Request().Context()

	sub := s.events.Subscribe()
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	slog.InfoContext(ctx, "SSE client subscribed", "remote_addr", c.RealIP())

	for ev := range sub.All(ctx) {
		if err := writeEvent(w, ev); err != nil {
			slog.DebugContext(ctx, "SSE write failed", "error", err)
			break
		}
		w.Flush()
	}

	slog.InfoContext(ctx, "SSE client unsubscribed", "remote_addr", c.RealIP(), "dropped", sub.Dropped())
	return nil
}

// writeEvent renders ev in text/event-stream framing. Multi-line data is
// split into one data field per line.
func writeEvent(w io.Writer, ev domain.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id:%s\n", ev.ID)
	fmt.Fprintf(&b, "event:%s\n", ev.Kind)

	data := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(ev.Data)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data:%s\n", line)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
