package ws

import "encoding/json"

// MessageType constants for WebSocket protocol.
const (
	// Client -> Server
	TypeStartGame    = "start_game"
	TypeAnswer       = "answer"
	TypeNextQuestion = "next_question"
	TypeResetGame    = "reset_game"
	TypeCameraFrame  = "camera_frame"
	TypeCameraDenied = "camera_denied"
	TypeRequestState = "request_state"

	// Server -> Client
	TypeSessionState  = "session_state"
	TypeCameraRequest = "camera_request"
	TypeActionAck     = "action_ack"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = data
	return msg, nil
}

// Client Messages (incoming)

type AnswerPayload struct {
	Answer string `json:"answer"` // "REAL" or "AI"
}

type CameraFramePayload struct {
	Image string `json:"image"` // data URL or bare base64
}

// Server Messages (outgoing)

type CameraRequestPayload struct {
	FacingMode  string `json:"facing_mode"`
	IdealWidth  int    `json:"ideal_width"`
	IdealHeight int    `json:"ideal_height"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
