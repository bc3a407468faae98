package errors

// Error codes for standardized error responses
const (
	// Validation errors
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeInvalidSessionID = "invalid_session_id"
	ErrCodeInvalidAnswer    = "invalid_answer"

	// Resource errors
	ErrCodeSessionNotFound = "session_not_found"
	ErrCodeSessionClosed   = "session_closed"

	// Camera errors
	ErrCodeCameraNotRequested = "camera_not_requested"
	ErrCodeInvalidFrame       = "invalid_frame"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"
	ErrCodeConnectionError    = "connection_error"

	// Server errors
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeUpstreamError      = "upstream_error"
)
