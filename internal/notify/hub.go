package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"service-dispatch/internal/logx"
)

// Hub pushes events to drivers connected over websocket.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session

	writeTimeout time.Duration
	logger       logx.Logger
}

// Session is one websocket connection of a driver.
type Session struct {
	ID       string
	DriverID string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHub returns an empty Hub.
func NewHub(logger logx.Logger, writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Hub{
		sessions:     make(map[string]map[string]*Session),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Attach registers conn as a session of driverID.
func (h *Hub) Attach(driverID string, conn *websocket.Conn) *Session {
	s := &Session{ID: uuid.NewString(), DriverID: driverID, conn: conn}

	h.mu.Lock()
	byID := h.sessions[driverID]
	if byID == nil {
		byID = make(map[string]*Session)
		h.sessions[driverID] = byID
	}
	byID[s.ID] = s
	h.mu.Unlock()

	h.logger.Info("ws session attached", logx.String("driver_id", driverID), logx.String("session_id", s.ID))
	return s
}

// Detach removes the session and closes its connection.
func (h *Hub) Detach(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if byID, ok := h.sessions[s.DriverID]; ok {
		delete(byID, s.ID)
		if len(byID) == 0 {
			delete(h.sessions, s.DriverID)
		}
	}
	h.mu.Unlock()

	s.mu.Lock()
	_ = s.conn.Close()
	s.mu.Unlock()
	h.logger.Info("ws session detached", logx.String("driver_id", s.DriverID), logx.String("session_id", s.ID))
}

// Sessions returns the number of open sessions of driverID.
func (h *Hub) Sessions(driverID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[driverID])
}

// Notify writes ev to every session of the recipient. A driver without
// sessions is not an error.
func (h *Hub) Notify(_ context.Context, ev Event) error {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[ev.Recipient]))
	for _, s := range h.sessions[ev.Recipient] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.write(ev, h.writeTimeout); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
			h.Detach(s)
		}
	}
	if len(errs) > 0 {
		// broken sockets are gone, retrying would not reach them
		return Permanent(errors.Join(errs...))
	}
	return nil
}

// Close detaches every session.
func (h *Hub) Close() error {
	h.mu.RLock()
	var all []*Session
	for _, byID := range h.sessions {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		h.Detach(s)
	}
	return nil
}

func (s *Session) write(ev Event, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

// Ping sends a websocket ping control frame.
func (s *Session) Ping(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

var _ Notifier = (*Hub)(nil)
