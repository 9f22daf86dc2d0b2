package realtime

import "encoding/json"

const (
	FrameConnected    = "connected"
	FrameJoin         = "join"
	FrameJoined       = "joined"
	FrameLeave        = "leave"
	FrameLeft         = "left"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameError        = "error"
	FrameMessage      = "message"
	FrameStatus       = "conversation.status"
	FrameConversation = "conversation.created"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// Encode marshals a frame; the payload types used here always marshal.
func Encode(frame Frame) []byte {
	payload, err := json.Marshal(frame)
	if err != nil {
		payload, _ = json.Marshal(Frame{Type: FrameError, Code: "ENCODE_FAILED", Error: err.Error()})
	}
	return payload
}
