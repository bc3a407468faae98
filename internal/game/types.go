package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gokatarajesh/selfie-quiz/internal/question"
)

// Status is the session-level phase.
type Status string

// Status lifecycle: LANDING -> PLAYING -> [WAITING] -> FINAL -> COMPLETE.
const (
	StatusLanding  Status = "LANDING"
	StatusPlaying  Status = "PLAYING"
	StatusWaiting  Status = "WAITING"
	StatusFinal    Status = "FINAL"
	StatusComplete Status = "COMPLETE"
)

// GenerationStatus tracks the remote selfie transformation.
type GenerationStatus string

// GenerationStatus values.
const (
	GenerationIdle    GenerationStatus = "IDLE"
	GenerationPending GenerationStatus = "PENDING"
	GenerationReady   GenerationStatus = "READY"
	GenerationError   GenerationStatus = "ERROR"
)

var (
	// ErrInvalidTransition is returned for rejected triggers; state is untouched.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSessionNotFound is returned by the manager for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned once a session has been evicted.
	ErrSessionClosed = errors.New("session closed")

	errStale = errors.New("stale completion")
)

func invalid(op, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidTransition, op, reason)
}

// PhotoCapturer acquires the player's selfie as an image payload.
type PhotoCapturer interface {
	Capture(ctx context.Context) (string, error)
}

// ImageGenerator transforms a source image with a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, sourceImage, prompt string) (string, error)
}

// Snapshot is a consistent, detached copy of a session's state.
type Snapshot struct {
	ID               uuid.UUID           `json:"id"`
	Version          uint64              `json:"version"`
	Status           Status              `json:"status"`
	QuestionIndex    int                 `json:"question_index"`
	Questions        []question.Question `json:"questions"`
	Answers          []*question.Answer  `json:"answers"`
	Score            int                 `json:"score"`
	CurrentQuestion  *question.Question  `json:"current_question,omitempty"`
	IsLastQuestion   bool                `json:"is_last_question"`
	CapturedPhoto    string              `json:"captured_photo,omitempty"`
	CameraError      string              `json:"camera_error,omitempty"`
	GenerationStatus GenerationStatus    `json:"generation_status"`
	GeneratedImage   string              `json:"generated_image,omitempty"`
	GenerationError  string              `json:"generation_error,omitempty"`
	FallbackUsed     bool                `json:"fallback_used"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// FinalQuestion returns the FINAL question of the snapshot.
func (s Snapshot) FinalQuestion() question.Question {
	return s.Questions[len(s.Questions)-1]
}

// EventType classifies session notifications.
type EventType string

// Event types.
const (
	EventState      EventType = "state"
	EventCamera     EventType = "camera"
	EventGeneration EventType = "generation"
)

// Event is delivered to subscribers after every state change.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Action names accepted by the transport layer.
const (
	ActionStart  = "start"
	ActionAnswer = "answer"
	ActionNext   = "next"
	ActionReset  = "reset"
)

// ActionResponse acknowledges a player action. Rejected actions are not
// errors: Accepted is false and Reason says why.
type ActionResponse struct {
	Action   string   `json:"action"`
	Accepted bool     `json:"accepted"`
	Reason   string   `json:"reason,omitempty"`
	Session  Snapshot `json:"session"`
}
