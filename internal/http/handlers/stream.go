package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
	"service-dispatch/internal/notify"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 5 * time.Second
)

type driverLookup interface {
	Driver(ctx context.Context, id string) (domain.Driver, error)
}

// StreamHandler upgrades driver connections to websocket and attaches them
// to the push hub.
type StreamHandler struct {
	drivers  driverLookup
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   logx.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(drivers driverLookup, hub *notify.Hub, logger logx.Logger) *StreamHandler {
	return &StreamHandler{
		drivers: drivers,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: loggerOrNop(logger),
	}
}

// Serve handles GET /ws/drivers/{id}. The connection stays open until the
// client goes away; inbound frames are read only to process control frames.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r, "id")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := h.drivers.Driver(r.Context(), id); err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		h.logger.Warn("ws upgrade failed", logx.String("driver_id", id), logx.Err(err))
		return
	}
	s := h.hub.Attach(id, conn)
	defer h.hub.Detach(s)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := s.Ping(writeWait); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws read failed", logx.String("driver_id", id), logx.Err(err))
			}
			return
		}
	}
}
