package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleStream streams thought changes as Server-Sent Events until the
// client disconnects or the server shuts down. The subscription is
// released on every exit path.
//
//	event: INSERT
//	data: {"event_id":"...","eventType":"INSERT","table":"thoughts","new":{...}}
//
//	: heartbeat
func (s *Server) handleStream(c echo.Context) error {
	ctx := c.Request().Context()

	stream, err := s.deps.Changes.Subscribe(ctx)
	if err != nil {
		s.logger.Error("subscribe to changes failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "change feed unavailable"})
	}
	defer func() {
		if err := stream.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encode change event failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			return nil

		case <-s.closing:
			return nil
		}
	}
}
