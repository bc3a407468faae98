package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/selfie-quiz/internal/camera"
	"github.com/gokatarajesh/selfie-quiz/internal/logging"
	"github.com/gokatarajesh/selfie-quiz/internal/question"
	httperrors "github.com/gokatarajesh/selfie-quiz/pkg/http/errors"
	ws "github.com/gokatarajesh/selfie-quiz/pkg/http/ws"
)

const maxFrameBody = 16 << 20

// Handler exposes sessions over REST and WebSocket.
type Handler struct {
	manager  *Manager
	hub      *ws.Hub
	upgrader *websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the session transport handler.
func NewHandler(manager *Manager, hub *ws.Hub, upgrader *websocket.Upgrader, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		hub:      hub,
		upgrader: upgrader,
		logger:   logger.With().Str("component", "session_http").Logger(),
	}
}

// Register mounts the session routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/start", h.HandleAction(ActionStart))
	mux.HandleFunc("POST /v1/sessions/{id}/answer", h.HandleAction(ActionAnswer))
	mux.HandleFunc("POST /v1/sessions/{id}/next", h.HandleAction(ActionNext))
	mux.HandleFunc("POST /v1/sessions/{id}/reset", h.HandleAction(ActionReset))
	mux.HandleFunc("POST /v1/sessions/{id}/camera/frame", h.CameraFrame)
	mux.HandleFunc("POST /v1/sessions/{id}/camera/deny", h.CameraDeny)
	mux.HandleFunc("GET /ws/sessions/{id}", h.HandleWebSocket)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	h.respondJSON(w, http.StatusCreated, s.Snapshot())
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.manager.Lookup(r.Context(), id)
	if errors.Is(err, ErrSessionNotFound) {
		httperrors.RespondNotFound(w, httperrors.ErrCodeSessionNotFound, "Session not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", id.String()).Msg("session lookup failed")
		httperrors.RespondInternalError(w, "Failed to load session")
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Remove(r.Context(), id); err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeSessionNotFound, "Session not found")
		return
	}
	h.hub.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAction returns the handler for POST /v1/sessions/{id}/<action>.
// Rejected transitions answer 200 with accepted=false.
func (h *Handler) HandleAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.liveSession(w, r)
		if !ok {
			return
		}

		var answer question.Answer
		if action == ActionAnswer {
			var req answerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
				return
			}
			answer = question.Answer(req.Answer)
			if !answer.Valid() {
				httperrors.RespondValidationError(w, httperrors.ErrCodeInvalidAnswer, "answer must be REAL or AI", "answer")
				return
			}
		}

		resp, err := h.dispatch(r.Context(), s, action, answer)
		if err != nil {
			httperrors.RespondNotFound(w, httperrors.ErrCodeSessionClosed, "Session is closed")
			return
		}
		h.respondJSON(w, http.StatusOK, resp)
	}
}

// CameraFrame handles POST /v1/sessions/{id}/camera/frame
func (h *Handler) CameraFrame(w http.ResponseWriter, r *http.Request) {
	device, ok := h.pushDevice(w, r)
	if !ok {
		return
	}
	var req ws.CameraFramePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if code, err := pushFrame(device, req.Image); err != nil {
		h.respondCameraError(w, code, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CameraDeny handles POST /v1/sessions/{id}/camera/deny
func (h *Handler) CameraDeny(w http.ResponseWriter, r *http.Request) {
	device, ok := h.pushDevice(w, r)
	if !ok {
		return
	}
	if err := device.Deny(); err != nil {
		h.respondCameraError(w, httperrors.ErrCodeCameraNotRequested, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWebSocket upgrades GET /ws/sessions/{id} and serves the session
// protocol until the client disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.liveSession(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := s.ID()
	logger := h.logger.With().Str("session_id", id.String()).Logger()
	wsConn := ws.NewConnection(conn, logger)
	h.hub.RegisterConnection(id, wsConn)

	go wsConn.WritePump()

	// The client may have missed updates while disconnected.
	h.sendState(id, s, "")

	ctx := logging.IntoContext(context.Background(), logger)
	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(ctx, s, msg)
	})

	h.hub.UnregisterConnection(id, wsConn)
}

// handleMessage routes incoming WebSocket messages.
func (h *Handler) handleMessage(ctx context.Context, s *Session, msg ws.Message) error {
	id := s.ID()
	switch msg.Type {
	case ws.TypeStartGame:
		return h.handleWSAction(ctx, s, ActionStart, "", msg.RequestID)
	case ws.TypeAnswer:
		var req ws.AnswerPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeInvalidPayload, "Invalid answer payload")
		}
		answer := question.Answer(req.Answer)
		if !answer.Valid() {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeInvalidAnswer, "answer must be REAL or AI")
		}
		return h.handleWSAction(ctx, s, ActionAnswer, answer, msg.RequestID)
	case ws.TypeNextQuestion:
		return h.handleWSAction(ctx, s, ActionNext, "", msg.RequestID)
	case ws.TypeResetGame:
		return h.handleWSAction(ctx, s, ActionReset, "", msg.RequestID)
	case ws.TypeCameraFrame:
		var req ws.CameraFramePayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeInvalidPayload, "Invalid camera_frame payload")
		}
		device, err := h.manager.Camera(id)
		if err != nil || device == nil {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeCameraNotRequested, "Session does not accept camera frames")
		}
		if code, err := pushFrame(device, req.Image); err != nil {
			return h.sendError(id, msg.RequestID, code, err.Error())
		}
		return nil
	case ws.TypeCameraDenied:
		device, err := h.manager.Camera(id)
		if err != nil || device == nil {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeCameraNotRequested, "Session does not accept camera frames")
		}
		if err := device.Deny(); err != nil {
			return h.sendError(id, msg.RequestID, httperrors.ErrCodeCameraNotRequested, err.Error())
		}
		return nil
	case ws.TypeRequestState:
		return h.sendState(id, s, msg.RequestID)
	case ws.TypePing:
		return h.send(id, ws.TypePong, nil, msg.RequestID)
	default:
		return h.sendError(id, msg.RequestID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *Handler) handleWSAction(ctx context.Context, s *Session, action string, answer question.Answer, requestID string) error {
	resp, err := h.dispatch(ctx, s, action, answer)
	if err != nil {
		return h.sendError(s.ID(), requestID, httperrors.ErrCodeSessionClosed, "Session is closed")
	}
	return h.send(s.ID(), ws.TypeActionAck, resp, requestID)
}

// dispatch applies one player action. Invalid transitions are reported in the
// response; only a closed session is an error.
func (h *Handler) dispatch(ctx context.Context, s *Session, action string, answer question.Answer) (ActionResponse, error) {
	var err error
	switch action {
	case ActionStart:
		err = s.StartGame(ctx)
	case ActionAnswer:
		err = s.AnswerQuestion(answer)
	case ActionNext:
		err = s.NextQuestion()
	case ActionReset:
		err = s.ResetGame()
	default:
		err = invalid(action, "unknown action")
	}

	resp := ActionResponse{Action: action, Accepted: err == nil}
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			return ActionResponse{}, err
		}
		resp.Reason = err.Error()
		logger := logging.FromContext(ctx)
		logger.Debug().Err(err).Str("action", action).Msg("action rejected")
	}
	resp.Session = s.Snapshot()
	return resp, nil
}

func pushFrame(device *camera.PushDevice, image string) (string, error) {
	frame, err := camera.DecodeFrame(image)
	if err != nil || len(frame) == 0 {
		return httperrors.ErrCodeInvalidFrame, fmt.Errorf("frame is not valid base64 image data")
	}
	if err := device.Push(frame); err != nil {
		return httperrors.ErrCodeCameraNotRequested, err
	}
	return "", nil
}

func (h *Handler) sendState(id uuid.UUID, s *Session, requestID string) error {
	return h.send(id, ws.TypeSessionState, Event{Type: EventState, Snapshot: s.Snapshot()}, requestID)
}

func (h *Handler) send(id uuid.UUID, msgType string, payload any, requestID string) error {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	msg.RequestID = requestID
	return h.hub.SendToSession(id, msg)
}

func (h *Handler) sendError(id uuid.UUID, requestID, code, message string) error {
	return h.send(id, ws.TypeError, ws.ErrorPayload{Code: code, Message: message}, requestID)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidSessionID, "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) liveSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.manager.Get(id)
	if err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeSessionNotFound, "Session not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) pushDevice(w http.ResponseWriter, r *http.Request) (*camera.PushDevice, bool) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return nil, false
	}
	device, err := h.manager.Camera(id)
	if err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeSessionNotFound, "Session not found")
		return nil, false
	}
	if device == nil {
		httperrors.RespondConflict(w, httperrors.ErrCodeCameraNotRequested, "Session does not accept camera frames")
		return nil, false
	}
	return device, true
}

func (h *Handler) respondCameraError(w http.ResponseWriter, code string, err error) {
	if code == httperrors.ErrCodeInvalidFrame {
		httperrors.RespondBadRequest(w, code, err.Error())
		return
	}
	httperrors.RespondConflict(w, code, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
