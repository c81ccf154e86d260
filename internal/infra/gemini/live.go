package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/internal/application"
	"voicechat/internal/domain"
	"voicechat/internal/infra"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel    = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice    = "Zephyr"

	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
	eventBuffer      = 64
)

type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	Endpoint          string
	Retry             infra.RetryConfig
}

// Client dials Gemini Live sessions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = infra.DefaultRetryConfig()
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Dial opens the websocket, sends the setup message and starts reading. The
// returned stream reports EventOpen once the service acknowledges setup.
func (c *Client) Dial(ctx context.Context) (application.LiveStream, error) {
	target, err := c.endpointURL()
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	attempt := 0
	err = infra.WithRetry(ctx, c.cfg.Retry, func() error {
		attempt++
		ws, resp, err := c.dialer.DialContext(ctx, target, nil)
		if err == nil {
			conn = ws
			return nil
		}
		if resp == nil {
			c.logger.Warn("gemini handshake failed", "attempt", attempt, "error", err)
			return fmt.Errorf("connecting to gemini: %w", err)
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			c.logger.Warn("gemini handshake rejected, retrying", "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("gemini handshake error %d: %s (retryable)", resp.StatusCode, string(body))
		}
		return infra.Permanent(fmt.Errorf("gemini handshake error %d: %s", resp.StatusCode, string(body)))
	})
	if err != nil {
		return nil, err
	}

	setup, err := json.Marshal(newSetup(c.cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshaling setup: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending setup: %w", err)
	}

	s := newStream(conn, c.logger)
	go s.readPump()

	c.logger.Debug("gemini stream dialed", "model", c.cfg.Model, "voice", c.cfg.Voice)
	return s, nil
}

func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing gemini endpoint: %w", err)
	}
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stream is one Gemini Live websocket. Writes are serialized; the read pump
// is the only reader and owns the events channel.
type Stream struct {
	conn   *websocket.Conn
	events chan domain.StreamEvent
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newStream(conn *websocket.Conn, logger *slog.Logger) *Stream {
	return &Stream{
		conn:   conn,
		events: make(chan domain.StreamEvent, eventBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

func (s *Stream) Events() <-chan domain.StreamEvent {
	return s.events
}

// Send writes one realtime audio chunk.
func (s *Stream) Send(chunk domain.TransportChunk) error {
	msg, err := json.Marshal(realtimeInput{
		RealtimeInput: realtimeInputBody{Audio: blob{MimeType: chunk.MimeType, Data: chunk.Data}},
	})
	if err != nil {
		return fmt.Errorf("marshaling audio: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return fmt.Errorf("%w: stream closed", domain.ErrStream)
	default:
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	return nil
}

// Close sends a close frame and tears down the connection. Safe to call
// more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *Stream) readPump() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !s.emit(domain.StreamEvent{
				Kind: domain.EventMalformed,
				Err:  fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err),
			}) {
				return
			}
			continue
		}

		if !s.dispatch(&msg) {
			return
		}
	}
}

func (s *Stream) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		return s.emit(domain.StreamEvent{
			Kind: domain.EventError,
			Err:  fmt.Errorf("gemini error %d %s: %s", msg.Error.Code, msg.Error.Status, msg.Error.Message),
		})
	}

	if msg.GoAway != nil {
		s.logger.Warn("gemini going away", "time_left", msg.GoAway.TimeLeft)
	}

	if msg.SetupComplete != nil {
		if !s.emit(domain.StreamEvent{Kind: domain.EventOpen}) {
			return false
		}
	}

	if msg.ServerContent != nil {
		for _, m := range toMessages(msg.ServerContent) {
			m := m
			if !s.emit(domain.StreamEvent{Kind: domain.EventMessage, Message: &m}) {
				return false
			}
		}
	}
	return true
}

func (s *Stream) readFailed(err error) {
	select {
	case <-s.closed:
		return
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		s.logger.Info("gemini closed the stream", "code", closeErr.Code, "reason", closeErr.Text)
		s.emit(domain.StreamEvent{Kind: domain.EventClosed})
		return
	}

	s.emit(domain.StreamEvent{Kind: domain.EventError, Err: fmt.Errorf("reading: %w", err)})
}

// emit hands ev to the session loop unless the stream was closed locally.
func (s *Stream) emit(ev domain.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}
