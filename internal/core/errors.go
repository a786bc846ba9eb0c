package core

// Error codes for domain errors.
const (
	ErrCodeAuthFailed       = "auth_failed"
	ErrCodeAccessDenied     = "access_denied"
	ErrCodeInvalidMessage   = "invalid_message"
	ErrCodeNotFound         = "not_found"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeDeliveryFailed   = "delivery_failed"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrAccessDenied is returned when a principal is not entitled to a conversation.
func ErrAccessDenied() *CoreError {
	return coreError(ErrCodeAccessDenied, "access denied to this conversation")
}

// ErrConversationNotFound is returned when the conversation does not exist.
func ErrConversationNotFound() *CoreError {
	return coreError(ErrCodeNotFound, "conversation not found")
}

// ErrInvalidMessage is returned for malformed or empty message content.
func ErrInvalidMessage(msg string) *CoreError {
	return coreError(ErrCodeInvalidMessage, msg)
}

// ErrStoreUnavailable is returned when the durability layer fails an append.
func ErrStoreUnavailable() *CoreError {
	return coreError(ErrCodeStoreUnavailable, "failed to persist message")
}
