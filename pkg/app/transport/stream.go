// Package transport maintains the persistent duplex stream that delivers
// agent output and carries outbound chat text. One connection exists per
// authenticated user session; reconnecting replaces the old connection
// and its handlers so a stale read pump can never deliver into state.
package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/metrics"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

// Frame type discriminators for inbound frames.
const (
	FrameStreaming  = "streaming_response"
	FrameFinal      = "final_response"
	FrameError      = "error"
	FrameToolModify = "tool_modify_required"
)

// Frame is one inbound message from the agent stream. Streaming frames
// carry the complete accumulated text of the in-progress assistant turn,
// not a delta.
type Frame struct {
	Type     string               `json:"type"`
	Content  string               `json:"content,omitempty"`
	Message  string               `json:"message,omitempty"`
	ChatID   string               `json:"chat_id,omitempty"`
	ToolName string               `json:"tool_name,omitempty"`
	Usage    *state.UsageMetadata `json:"usage_metadata,omitempty"`
	Charge   *state.ChargeResult  `json:"charge_result,omitempty"`
}

// outbound is the single frame shape the client sends.
type outbound struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id"`
}

// Handler consumes inbound frames.
type Handler func(Frame)

// Stream owns one websocket connection per authenticated user session.
type Stream struct {
	baseURL string
	log     logr.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers []Handler
	gen      int
}

// NewStream creates a Stream for the given server base URL (http or https
// scheme; the websocket scheme is derived).
func NewStream(baseURL string, log logr.Logger) *Stream {
	return &Stream{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.WithName("stream"),
	}
}

// Connect dials the chat stream for a user session, replacing any prior
// connection. Handlers registered before the replacement are dropped.
func (s *Stream) Connect(ctx context.Context, userID string) error {
	target, err := s.streamURL(userID)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStreamConnect, "invalid server URL", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStreamConnect, "failed to dial stream", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.handlers = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.readPump(conn, gen)

	s.log.V(1).Info("stream connected", "user", userID)
	return nil
}

// Disconnect closes the connection and clears all registered handlers.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.handlers = nil
	s.gen++
}

// Connected reports whether a connection is currently open.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// OnFrame registers a handler for inbound frames on the current
// connection. Handlers do not survive Disconnect or a reconnect.
func (s *Stream) OnFrame(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Send transmits one chat message for the given chat session. Sending on
// a closed stream is an error; the caller must surface it and must not
// leave an optimistic responding flag dangling.
func (s *Stream) Send(message, chatID string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return apperrors.New(apperrors.ErrCodeStreamSend, "stream is not connected", nil)
	}
	if err := conn.WriteJSON(outbound{Message: message, ChatID: chatID}); err != nil {
		return apperrors.New(apperrors.ErrCodeStreamSend, "failed to write frame", err)
	}
	return nil
}

// readPump delivers inbound frames to the handlers registered for this
// connection generation. When Disconnect or a reconnect bumps the
// generation, the pump exits without delivering anything further.
func (s *Stream) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.V(1).Info("stream closed", "reason", err.Error())
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Error(err, "dropping malformed frame")
			continue
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		handlers := make([]Handler, len(s.handlers))
		copy(handlers, s.handlers)
		s.mu.Unlock()

		metrics.StreamFrames.WithLabelValues(frame.Type).Inc()
		for _, h := range handlers {
			h(frame)
		}
	}
}

func (s *Stream) streamURL(userID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/chat/" + userID
	return u.String(), nil
}
