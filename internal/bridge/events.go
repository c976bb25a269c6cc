package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamReadLimit    = 1024
)

// Stream pushes structured events to websocket subscribers so the panel can
// render a live activity feed. It satisfies logging.Sink, so registering it
// on the router is all the wiring a live feed needs.
type Stream struct {
	upgrader websocket.Upgrader
	logger   telemetry.Logger

	mu          sync.Mutex
	subscribers map[*streamSubscriber]struct{}
	closed      bool
}

type streamSubscriber struct {
	conn *websocket.Conn
	// mu serializes writes; gorilla permits one concurrent writer per conn.
	mu sync.Mutex
}

// NewStream builds an empty stream.
func NewStream(logger telemetry.Logger) *Stream {
	return &Stream{
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:      logger,
		subscribers: make(map[*streamSubscriber]struct{}),
	}
}

// handleEvents upgrades the request and holds the connection open until the
// client goes away. Authentication already happened in the middleware.
func (s *Stream) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("event stream upgrade failed: %v", err)
		}
		return
	}

	sub := &streamSubscriber{conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	// The feed is one way. Drain the read side only to notice disconnects.
	conn.SetReadLimit(streamReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	conn.Close()
}

// SubscriberCount reports the number of live connections.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Write broadcasts one event to every subscriber. A subscriber that cannot
// keep up is dropped rather than allowed to stall the rest.
func (s *Stream) Write(event logging.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	subs := make([]*streamSubscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	var stale []*streamSubscriber
	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		err := sub.conn.WriteMessage(websocket.TextMessage, payload)
		sub.mu.Unlock()
		if err != nil {
			stale = append(stale, sub)
		}
	}

	if len(stale) > 0 {
		s.mu.Lock()
		for _, sub := range stale {
			delete(s.subscribers, sub)
		}
		s.mu.Unlock()
		for _, sub := range stale {
			sub.conn.Close()
		}
	}
	return nil
}

// Close sends a close frame to every subscriber and rejects new ones.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*streamSubscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*streamSubscriber]struct{})
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage, message, deadline)
		sub.mu.Unlock()
		sub.conn.Close()
	}
	return nil
}

var _ logging.Sink = (*Stream)(nil)
