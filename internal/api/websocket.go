package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/taskpilot/internal/agent"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// Frame is one websocket message in either direction. Clients send
// {"type":"message","text":"..."}; a plain text frame is accepted as
// the message text. Replies arrive as one or more "reply" frames; the
// last one has Final set and carries the turn's metadata.
type Frame struct {
	Type           string        `json:"type"`
	Text           string        `json:"text,omitempty"`
	Index          int           `json:"index,omitempty"`
	Final          bool          `json:"final,omitempty"`
	Outcome        agent.Outcome `json:"outcome,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Error          string        `json:"error,omitempty"`
}

var (
	errEmptyMessage = errors.New("message text is empty")
	errUnknownFrame = errors.New("unknown frame type")
)

// Frame types.
const (
	FrameMessage = "message"
	FrameReply   = "reply"
	FrameError   = "error"
)

// handleWS runs a chat session on a websocket. Turns on one connection
// are handled in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := userID(r, "")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("user_id", user)
	log.Debug("websocket connected")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		text, err := parseInbound(data)
		if err != nil {
			s.countWS("inbound", "invalid")
			if !s.send(conn, Frame{Type: FrameError, Error: err.Error()}) {
				return
			}
			continue
		}
		s.countWS("inbound", FrameMessage)

		res, err := s.deps.Chat.Handle(ctx, user, text)
		if err != nil {
			log.Error("chat turn failed", "error", err)
			if !s.send(conn, Frame{Type: FrameError, Error: "agent error: " + err.Error()}) {
				return
			}
			continue
		}

		parts := agent.SplitMessage(res.Content, s.cfg.ChunkSize)
		if len(parts) == 0 {
			parts = []string{""}
		}
		for i, part := range parts {
			f := Frame{Type: FrameReply, Text: part, Index: i}
			if i == len(parts)-1 {
				f.Final = true
				f.Outcome = res.Outcome
				f.ConversationID = res.ConversationID
			}
			if !s.send(conn, f) {
				return
			}
		}
	}
}

func parseInbound(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		if trimmed == "" {
			return "", errEmptyMessage
		}
		return trimmed, nil
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", err
	}
	if f.Type != "" && f.Type != FrameMessage {
		return "", errUnknownFrame
	}
	if strings.TrimSpace(f.Text) == "" {
		return "", errEmptyMessage
	}
	return f.Text, nil
}

func (s *Server) send(conn *websocket.Conn, f Frame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	s.countWS("outbound", f.Type)
	return true
}

func (s *Server) countWS(direction, typ string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.WSMessages.WithLabelValues(direction, typ).Inc()
	}
}
