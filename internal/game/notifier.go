package game

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/selfie-quiz/internal/camera"
	ws "github.com/gokatarajesh/selfie-quiz/pkg/http/ws"
)

// Notifier pushes session changes to the player's client.
type Notifier interface {
	SessionUpdated(evt Event)
	CameraRequested(sessionID uuid.UUID, c camera.Constraints)
}

// HubNotifier delivers notifications over the WebSocket hub. Sessions with no
// connected client are skipped silently.
type HubNotifier struct {
	hub    *ws.Hub
	logger zerolog.Logger
}

// NewHubNotifier creates a notifier backed by hub.
func NewHubNotifier(hub *ws.Hub, logger zerolog.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

// SessionUpdated sends a session_state message with the new snapshot.
func (n *HubNotifier) SessionUpdated(evt Event) {
	n.send(evt.Snapshot.ID, ws.TypeSessionState, evt)
}

// CameraRequested asks the client to start streaming its camera.
func (n *HubNotifier) CameraRequested(sessionID uuid.UUID, c camera.Constraints) {
	n.send(sessionID, ws.TypeCameraRequest, ws.CameraRequestPayload{
		FacingMode:  c.FacingMode,
		IdealWidth:  c.IdealWidth,
		IdealHeight: c.IdealHeight,
	})
}

func (n *HubNotifier) send(sessionID uuid.UUID, msgType string, payload any) {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		n.logger.Error().Err(err).Str("type", msgType).Msg("encode ws message")
		return
	}
	err = n.hub.SendToSession(sessionID, msg)
	if err != nil && !errors.Is(err, ws.ErrConnectionNotFound) {
		n.logger.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Str("type", msgType).
			Msg("ws notify failed")
	}
}
