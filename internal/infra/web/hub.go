package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicechat/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	subscriberBuffer = 32
)

// Event is one frame on the /ws feed.
type Event struct {
	Type     string               `json:"type"`
	Status   domain.SessionStatus `json:"status,omitempty"`
	Messages []domain.ChatMessage `json:"messages,omitempty"`
	Time     time.Time            `json:"time"`
}

const (
	EventTypeStatus   = "status"
	EventTypeMessages = "messages"
)

// Hub fans session events out to websocket subscribers. It implements
// application.SessionObserver.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

type subscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]*subscriber),
	}
}

func (h *Hub) StatusChanged(status domain.SessionStatus) {
	h.broadcast(Event{Type: EventTypeStatus, Status: status, Time: time.Now()})
}

func (h *Hub) MessagesAppended(messages []domain.ChatMessage) {
	h.broadcast(Event{Type: EventTypeMessages, Messages: messages, Time: time.Now()})
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// broadcast never blocks the session loop; a subscriber whose buffer is full
// is disconnected.
func (h *Hub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding feed event", "error", err)
		return
	}

	h.mu.Lock()
	var slow []*subscriber
	for _, sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow feed subscriber", "subscriber_id", sub.id)
		h.unregister(sub)
	}
}

// serve upgrades the request and subscribes the connection. initial, when
// set, is the first event the subscriber receives.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, initial *Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
		hub:  h,
	}
	if initial != nil {
		if payload, err := json.Marshal(initial); err == nil {
			sub.send <- payload
		}
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	h.logger.Debug("feed subscriber connected", "subscriber_id", sub.id)

	go sub.writePump()
	go sub.readPump()
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	h.mu.Unlock()

	if ok {
		sub.closeOnce.Do(func() { close(sub.send) })
		h.logger.Debug("feed subscriber disconnected", "subscriber_id", sub.id)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.unregister(sub)
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("feed read error", "subscriber_id", s.id, "error", err)
			}
			return
		}
	}
}
