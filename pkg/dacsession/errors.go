package dacsession

import (
	"errors"
	"fmt"
)

// SessionErrorCode типизированные коды ошибок сессии передачи
type SessionErrorCode int

const (
	ErrorCodeInvalidConfig SessionErrorCode = iota + 3000
	ErrorCodeInvalidState
	ErrorCodeSyncFailed
	ErrorCodeSendFailed
	ErrorCodeMalformedStatus
	ErrorCodeUnitFailed
	ErrorCodeShutdown
)

func (code SessionErrorCode) String() string {
	switch code {
	case ErrorCodeInvalidConfig:
		return "InvalidConfig"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodeSyncFailed:
		return "SyncFailed"
	case ErrorCodeSendFailed:
		return "SendFailed"
	case ErrorCodeMalformedStatus:
		return "MalformedStatus"
	case ErrorCodeUnitFailed:
		return "UnitFailed"
	case ErrorCodeShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// SessionError ошибка сессии передачи
type SessionError struct {
	Code      SessionErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

func (e *SessionError) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("[dac:%s] сессия %s: %s", e.Code, e.SessionID, msg)
	}
	return fmt.Sprintf("[dac:%s] %s", e.Code, msg)
}

func (e *SessionError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *SessionError) Is(target error) bool {
	if t, ok := target.(*SessionError); ok {
		return e.Code == t.Code
	}
	return false
}

// Предопределенные ошибки для errors.Is
var (
	ErrInvalidConfig   = &SessionError{Code: ErrorCodeInvalidConfig}
	ErrInvalidState    = &SessionError{Code: ErrorCodeInvalidState}
	ErrSyncFailed      = &SessionError{Code: ErrorCodeSyncFailed}
	ErrSendFailed      = &SessionError{Code: ErrorCodeSendFailed}
	ErrMalformedStatus = &SessionError{Code: ErrorCodeMalformedStatus}
	ErrShutdown        = &SessionError{Code: ErrorCodeShutdown}
)

func newSessionError(code SessionErrorCode, sessionID, message string, wrapped error) *SessionError {
	return &SessionError{Code: code, SessionID: sessionID, Message: message, Wrapped: wrapped}
}

func newMalformedStatus(raw, field string, wrapped error) *SessionError {
	return &SessionError{
		Code:    ErrorCodeMalformedStatus,
		Message: "некорректный статус DAC: " + field,
		Context: map[string]interface{}{"raw": raw},
		Wrapped: wrapped,
	}
}

// RawStatus возвращает исходный текст некорректного статуса, если он есть
func RawStatus(err error) (string, bool) {
	var se *SessionError
	if errors.As(err, &se) && se.Code == ErrorCodeMalformedStatus {
		raw, ok := se.Context["raw"].(string)
		return raw, ok
	}
	return "", false
}
