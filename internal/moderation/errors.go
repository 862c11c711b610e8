package moderation

import "errors"

var (
	// ErrPersistence wraps failures to store the primary content item
	ErrPersistence = errors.New("failed to persist theory")
	// ErrClassifierUnavailable is returned only by strict classification paths
	ErrClassifierUnavailable = errors.New("content classifier unavailable")
)

// ValidationError rejects malformed input before any classification happens
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RejectedError is returned when the classifier marks a submission unsafe.
// It is a business outcome: the content was not stored, only logged.
type RejectedError struct {
	Reasoning string
	Entry     *LogEntry
}

func (e *RejectedError) Error() string {
	return "theory submission blocked due to content policy violation"
}
