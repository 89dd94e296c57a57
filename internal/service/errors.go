package service

import "fmt"

// Machine-readable reason codes returned to clients alongside a
// human-readable message. Every rejected operation carries one.
const (
	CodeAttemptNotFound  = "ATTEMPT_NOT_FOUND"
	CodeAttemptNotActive = "ATTEMPT_NOT_ACTIVE"
	CodeTimeExpired      = "TIME_EXPIRED"
	CodeInvalidQuestion  = "INVALID_QUESTION"
	CodeSaveFailed       = "CHECKPOINT_SAVE_ERROR"

	CodeTransferNotFound   = "TRANSFER_NOT_FOUND"
	CodeTransferNotPending = "TRANSFER_NOT_PENDING"
	CodeTransferConflict   = "TRANSFER_CONFLICT"
	CodeInsufficientTime   = "INSUFFICIENT_TIME_REMAINING"
	CodeNotAuthorized      = "NOT_AUTHORIZED"
	CodeSameWorkstation    = "SAME_WORKSTATION"
	CodeMigrationFailed    = "MIGRATION_FAILED"
)

// ReasonError is a validation or state-conflict failure: expected,
// reported to the caller, never retried by the server.
type ReasonError struct {
	Code    string
	Message string
}

func (e *ReasonError) Error() string {
	return e.Message
}

func Reasonf(code, format string, args ...interface{}) *ReasonError {
	return &ReasonError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ReasonCode extracts the machine-readable code from an error, falling
// back to INTERNAL_ERROR for unexpected failures.
func ReasonCode(err error) string {
	if re, ok := err.(*ReasonError); ok {
		return re.Code
	}
	return "INTERNAL_ERROR"
}
