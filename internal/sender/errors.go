package sender

import "fmt"

// ValidationError reports a rejected send target or body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SendError means the message was not delivered.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending WhatsApp message to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ResumeError means the sync daemon could not be restarted after a send.
// Inbound messages stop arriving until an operator intervenes.
type ResumeError struct {
	Program string
	Err     error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("critical: %s failed to restart after send operation, manual intervention required: %v", e.Program, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }
