package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	readLimit    = 64 << 10
	authzTimeout = 5 * time.Second
)

var ErrJoinDenied = errors.New("not allowed to join conversation")

type Identity struct {
	UserID string
	Role   string
}

// Gatekeeper authenticates the socket owner and authorizes room joins.
type Gatekeeper interface {
	AuthenticateSocket(ctx context.Context, token string) (Identity, error)
	AuthorizeJoin(ctx context.Context, who Identity, conversationID string) error
}

// SocketHandler upgrades authenticated requests and processes join/leave
// frames until the client disconnects.
type SocketHandler struct {
	router   *Router
	gate     Gatekeeper
	upgrader websocket.Upgrader
}

func NewSocketHandler(router *Router, gate Gatekeeper, allowedOrigin string) *SocketHandler {
	return &SocketHandler{
		router: router,
		gate:   gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigin),
		},
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed == "" || allowed == "*" {
			return true
		}
		return strings.EqualFold(strings.TrimRight(origin, "/"), allowed)
	}
}

func socketToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	who, err := h.gate.AuthenticateSocket(r.Context(), socketToken(r))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "UNAUTHORIZED", "error": "Unauthorized"})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		log.Debug("realtime: upgrade failed", "err", err)
		return
	}

	conn := NewConnection(who.UserID, who.Role, ws)
	h.router.Attach(conn)
	defer func() {
		h.router.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	_ = conn.Send(Encode(Frame{Type: FrameConnected, Data: map[string]string{"userId": who.UserID}}))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("realtime: read ended", "userId", who.UserID, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.Send(Encode(Frame{Type: FrameError, Code: "BAD_REQUEST", Error: "invalid frame"}))
			continue
		}

		switch frame.Type {
		case FrameJoin:
			h.join(r.Context(), conn, who, frame.ConversationID)
		case FrameLeave:
			if frame.ConversationID == "" {
				_ = conn.Send(Encode(Frame{Type: FrameError, Code: "BAD_REQUEST", Error: "conversationId is required"}))
				continue
			}
			h.router.Leave(frame.ConversationID, conn)
			_ = conn.Send(Encode(Frame{Type: FrameLeft, ConversationID: frame.ConversationID}))
		case FramePing:
			_ = conn.Send(Encode(Frame{Type: FramePong}))
		default:
			_ = conn.Send(Encode(Frame{Type: FrameError, Code: "UNSUPPORTED_TYPE", Error: "unknown frame type"}))
		}
	}
}

func (h *SocketHandler) join(ctx context.Context, conn *Connection, who Identity, conversationID string) {
	if conversationID == "" {
		_ = conn.Send(Encode(Frame{Type: FrameError, Code: "BAD_REQUEST", Error: "conversationId is required"}))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, authzTimeout)
	defer cancel()
	if err := h.gate.AuthorizeJoin(ctx, who, conversationID); err != nil {
		code := "FORBIDDEN"
		if !errors.Is(err, ErrJoinDenied) {
			code = "JOIN_FAILED"
			log.Warn("realtime: join check failed", "conversationId", conversationID, "err", err)
		}
		_ = conn.Send(Encode(Frame{Type: FrameError, ConversationID: conversationID, Code: code, Error: "cannot join conversation"}))
		return
	}

	h.router.Join(conversationID, conn)
	_ = conn.Send(Encode(Frame{Type: FrameJoined, ConversationID: conversationID}))
}
